package user

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"finmirror/internal/shared/auth"
)

// ItemDeactivator revokes a user's linked items before the user row goes away.
type ItemDeactivator interface {
	ListActiveItemIDs(ctx context.Context, userID string) ([]string, error)
	DeactivateItem(ctx context.Context, itemID, userID string) error
}

// Service contains the business logic for user accounts
type Service struct {
	repo  Repository
	items ItemDeactivator
}

// NewService creates a new user service
func NewService(repo Repository, items ItemDeactivator) *Service {
	return &Service{repo: repo, items: items}
}

// Register creates a user with a fresh id and a hashed password
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.Create(ctx, CreateUserParams{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	})
}

// Authenticate checks a user id / password pair
func (s *Service) Authenticate(ctx context.Context, userID, password string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		log.Printf("Sign-in attempt for unknown user %s", userID)
		return nil, ErrInvalidCredentials
	}

	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// Get returns the user or ErrUserNotFound
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *Service) List(ctx context.Context) ([]*Summary, error) {
	return s.repo.List(ctx)
}

// Delete revokes every active item at the provider, then deletes the user.
// A failed revocation is logged and does not block the deletion.
func (s *Service) Delete(ctx context.Context, userID string) error {
	if _, err := s.Get(ctx, userID); err != nil {
		return err
	}

	itemIDs, err := s.items.ListActiveItemIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	for _, itemID := range itemIDs {
		if err := s.items.DeactivateItem(ctx, itemID, userID); err != nil {
			log.Printf("User %s: failed to deactivate item %s during account deletion: %v", userID, itemID, err)
		}
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	log.Printf("User %s: deleted (%d items deactivated)", userID, len(itemIDs))
	return nil
}
