package transaction

import (
	"context"
)

// Repository defines the interface for transaction data access
type Repository interface {
	// Insert stores a new live transaction. A collision with an existing live
	// id or a missing account yields ErrConstraintViolation.
	Insert(ctx context.Context, params UpsertTransactionParams) error
	// Update overwrites the mutable fields of the live transaction with
	// params.ID owned by params.UserID. Returns ErrTransactionNotFound when no
	// live row matches.
	Update(ctx context.Context, params UpsertTransactionParams) error
	// Tombstone soft-deletes the user's live transaction with the given id by
	// renaming it to a unique tombstone id and setting the removed flag.
	// Returns the tombstone id, or ErrTransactionNotFound.
	Tombstone(ctx context.Context, userID, id string) (string, error)
	// Delete permanently removes one of the user's live transactions.
	// Tombstones are never deleted. Returns ErrTransactionNotFound.
	Delete(ctx context.Context, userID, id string) error
	// ListByUserID returns up to limit live transactions, newest first.
	ListByUserID(ctx context.Context, userID string, limit int) ([]*ListedTransaction, error)
}
