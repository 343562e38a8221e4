package item

import (
	"context"

	"finmirror/internal/domain/account"
)

// Repository defines the interface for item data access.
// Lookups return (nil, nil) when no row matches.
type Repository interface {
	// CreateWithAccounts registers an item and its known accounts atomically
	CreateWithAccounts(ctx context.Context, params CreateParams, accounts []account.EnsureParams) (*Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	// GetSyncState returns the credential and cursor of an active item
	GetSyncState(ctx context.Context, id string) (*SyncState, error)
	ListActiveIDsByUserID(ctx context.Context, userID string) ([]string, error)
	ListActiveByUserID(ctx context.Context, userID string) ([]*Item, error)
	// ListUserIDsWithActiveItems is used by the scheduler to build its batch
	ListUserIDsWithActiveItems(ctx context.Context) ([]string, error)
	SaveCursor(ctx context.Context, id, cursor string) error
	// Deactivate marks the item inactive and overwrites its credential with RevokedCredential
	Deactivate(ctx context.Context, id string) error
}
