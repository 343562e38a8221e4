package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"finmirror/internal/domain/account"
)

// An existing account keeps its item; a real name only fills in a blank one.
const ensureAccountQuery = `
	INSERT INTO accounts (id, item_id, name)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	WHERE accounts.name = '' AND EXCLUDED.name <> ''
`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

var _ account.Repository = (*AccountRepository)(nil)

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) EnsureExists(ctx context.Context, params account.EnsureParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ensureAccountQuery, params.ID, params.ItemID, params.Name); err != nil {
		return mapWriteError("failed to ensure account", err)
	}
	return nil
}

func (r *AccountRepository) ListByItemID(ctx context.Context, itemID string) ([]*account.Account, error) {
	query := `
		SELECT id, item_id, name, created_at
		FROM accounts
		WHERE item_id = $1
		ORDER BY created_at, id
	`

	var accounts []*account.Account
	if err := r.db.SelectContext(ctx, &accounts, query, itemID); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func ensureAccountTx(ctx context.Context, tx *sqlx.Tx, params account.EnsureParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, ensureAccountQuery, params.ID, params.ItemID, params.Name); err != nil {
		return mapWriteError("failed to ensure account", err)
	}
	return nil
}
