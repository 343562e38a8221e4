package account

import "context"

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// EnsureExists inserts the account unless a row with the same id already
	// exists. An existing row keeps its item; a non-empty name fills in a
	// missing one.
	EnsureExists(ctx context.Context, params EnsureParams) error

	// ListByItemID retrieves all accounts registered for an item
	ListByItemID(ctx context.Context, itemID string) ([]*Account, error)
}
