package openfinance

import (
	"context"
	"errors"
	"fmt"
	"log"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	ofclient "finmirror/internal/infrastructure/openfinance"
)

// Provider error code for an item the provider already forgot about.
const codeItemNotFound = "ITEM_NOT_FOUND"

// ItemService manages the lifecycle of linked items.
type ItemService struct {
	store  Store
	items  item.Repository
	client ofclient.ClientInterface
	locker ItemLocker
}

func NewItemService(store Store, items item.Repository, client ofclient.ClientInterface, locker ItemLocker) *ItemService {
	if locker == nil {
		locker = NewMemoryItemLocker()
	}
	return &ItemService{store: store, items: items, client: client, locker: locker}
}

// LinkItem registers an item whose access credential was already exchanged,
// together with the accounts known at link time.
func (s *ItemService) LinkItem(ctx context.Context, params item.CreateParams, accounts []account.EnsureParams) (*item.Item, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].ItemID = params.ID
		if err := accounts[i].Validate(); err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
	}

	created, err := s.items.CreateWithAccounts(ctx, params, accounts)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	log.Printf("User %s: linked item %s with %d accounts", params.UserID, params.ID, len(accounts))
	return created, nil
}

// ListBanks returns the user's active items.
func (s *ItemService) ListBanks(ctx context.Context, userID string) ([]*item.Item, error) {
	return s.items.ListActiveByUserID(ctx, userID)
}

func (s *ItemService) ListActiveItemIDs(ctx context.Context, userID string) ([]string, error) {
	return s.store.GetActiveItemIDs(ctx, userID)
}

// DeactivateItem revokes the item's credential at the provider and marks it
// inactive. Unknown or already inactive items yield ErrItemNotFound; an item
// owned by someone else yields ErrNotOwner and is left untouched.
func (s *ItemService) DeactivateItem(ctx context.Context, itemID, userID string) error {
	if _, err := s.ownedActiveItem(ctx, itemID, userID); err != nil {
		return err
	}

	unlock, ok, err := s.locker.TryLock(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to lock item %s: %w", itemID, err)
	}
	if !ok {
		return ErrItemBusy
	}
	defer unlock()

	// Read again under the lock: a concurrent deactivation may have revoked
	// the credential since the first read.
	it, err := s.ownedActiveItem(ctx, itemID, userID)
	if err != nil {
		return err
	}

	if it.AccessToken != item.RevokedCredential {
		if err := s.client.RemoveItem(ctx, it.AccessToken); err != nil {
			var structural *ofclient.StructuralError
			if !errors.As(err, &structural) || structural.Code != codeItemNotFound {
				return fmt.Errorf("failed to revoke item %s at provider: %w", itemID, err)
			}
			log.Printf("User %s: provider no longer knows item %s, deactivating locally", userID, itemID)
		}
	}

	if err := s.store.DeactivateItem(ctx, itemID); err != nil {
		return fmt.Errorf("failed to deactivate item: %w", err)
	}

	log.Printf("User %s: deactivated item %s", userID, itemID)
	return nil
}

func (s *ItemService) ownedActiveItem(ctx context.Context, itemID, userID string) (*item.Item, error) {
	it, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if it == nil || !it.IsActive {
		return nil, ErrItemNotFound
	}
	if it.UserID != userID {
		log.Printf("User %s: refused deactivation of item %s owned by %s", userID, itemID, it.UserID)
		return nil, ErrNotOwner
	}
	return it, nil
}
