package openfinance

import (
	"context"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
	"finmirror/internal/domain/transaction"
)

// Store is the persistence surface consumed by the sync engine, the
// orchestrator and item deactivation.
type Store interface {
	GetActiveItemIDs(ctx context.Context, userID string) ([]string, error)
	// GetItemSyncState returns (nil, nil) for unknown or inactive items
	GetItemSyncState(ctx context.Context, itemID string) (*item.SyncState, error)
	EnsureAccount(ctx context.Context, params account.EnsureParams) error
	InsertTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error
	UpdateTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error
	TombstoneTransaction(ctx context.Context, userID, id string) (string, error)
	SaveCursor(ctx context.Context, itemID, cursor string) error
	GetItem(ctx context.Context, itemID string) (*item.Item, error)
	DeactivateItem(ctx context.Context, itemID string) error
}

// RepositoryStore adapts the domain repositories to Store.
type RepositoryStore struct {
	items        item.Repository
	accounts     account.Repository
	transactions transaction.Repository
}

var _ Store = (*RepositoryStore)(nil)

func NewRepositoryStore(items item.Repository, accounts account.Repository, transactions transaction.Repository) *RepositoryStore {
	return &RepositoryStore{items: items, accounts: accounts, transactions: transactions}
}

func (s *RepositoryStore) GetActiveItemIDs(ctx context.Context, userID string) ([]string, error) {
	return s.items.ListActiveIDsByUserID(ctx, userID)
}

func (s *RepositoryStore) GetItemSyncState(ctx context.Context, itemID string) (*item.SyncState, error) {
	return s.items.GetSyncState(ctx, itemID)
}

func (s *RepositoryStore) EnsureAccount(ctx context.Context, params account.EnsureParams) error {
	return s.accounts.EnsureExists(ctx, params)
}

func (s *RepositoryStore) InsertTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error {
	return s.transactions.Insert(ctx, params)
}

func (s *RepositoryStore) UpdateTransaction(ctx context.Context, params transaction.UpsertTransactionParams) error {
	return s.transactions.Update(ctx, params)
}

func (s *RepositoryStore) TombstoneTransaction(ctx context.Context, userID, id string) (string, error) {
	return s.transactions.Tombstone(ctx, userID, id)
}

func (s *RepositoryStore) SaveCursor(ctx context.Context, itemID, cursor string) error {
	return s.items.SaveCursor(ctx, itemID, cursor)
}

func (s *RepositoryStore) GetItem(ctx context.Context, itemID string) (*item.Item, error) {
	return s.items.GetByID(ctx, itemID)
}

func (s *RepositoryStore) DeactivateItem(ctx context.Context, itemID string) error {
	return s.items.Deactivate(ctx, itemID)
}
