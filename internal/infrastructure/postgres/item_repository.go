package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"finmirror/internal/domain/account"
	"finmirror/internal/domain/item"
)

const itemColumns = `id, user_id, access_token, transaction_cursor, bank_name, is_active, created_at, updated_at`

// ItemRepository implements the item.Repository interface for PostgreSQL
type ItemRepository struct {
	db *DB
}

var _ item.Repository = (*ItemRepository)(nil)

func NewItemRepository(db *DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) CreateWithAccounts(ctx context.Context, params item.CreateParams, accounts []account.EnsureParams) (*item.Item, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO items (id, user_id, access_token, bank_name)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + itemColumns

	var it item.Item
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &it, query, params.ID, params.UserID, params.AccessToken, params.BankName); err != nil {
			return mapWriteError("failed to create item", err)
		}
		for _, a := range accounts {
			a.ItemID = it.ID
			if err := ensureAccountTx(ctx, tx, a); err != nil {
				return fmt.Errorf("account %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *ItemRepository) GetByID(ctx context.Context, id string) (*item.Item, error) {
	var it item.Item
	err := r.db.GetContext(ctx, &it, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &it, nil
}

func (r *ItemRepository) GetSyncState(ctx context.Context, id string) (*item.SyncState, error) {
	query := `
		SELECT id, user_id, access_token, transaction_cursor
		FROM items
		WHERE id = $1 AND is_active
	`

	var state item.SyncState
	err := r.db.GetContext(ctx, &state, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item sync state: %w", err)
	}
	return &state, nil
}

func (r *ItemRepository) ListActiveIDsByUserID(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM items WHERE user_id = $1 AND is_active ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	return ids, nil
}

func (r *ItemRepository) ListActiveByUserID(ctx context.Context, userID string) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = $1 AND is_active ORDER BY created_at, id`

	var items []*item.Item
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

func (r *ItemRepository) ListUserIDsWithActiveItems(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT user_id FROM items WHERE is_active ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list users with items: %w", err)
	}
	return ids, nil
}

func (r *ItemRepository) SaveCursor(ctx context.Context, id, cursor string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE items SET transaction_cursor = $2, updated_at = NOW() WHERE id = $1`, id, cursor)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (r *ItemRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE items
		SET access_token = $2, is_active = FALSE, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, item.RevokedCredential); err != nil {
		return fmt.Errorf("failed to deactivate item: %w", err)
	}
	return nil
}
