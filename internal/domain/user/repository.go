package user

import "context"

// Repository defines the interface for user data access
type Repository interface {
	Create(ctx context.Context, params CreateUserParams) (*User, error)
	// GetByID returns (nil, nil) when the user does not exist
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]*Summary, error)
	// Delete removes the user; items, accounts and transactions cascade
	Delete(ctx context.Context, id string) error
}
