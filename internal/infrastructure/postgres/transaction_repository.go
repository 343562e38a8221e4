package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"finmirror/internal/domain/transaction"
)

// TransactionRepository implements the transaction.Repository interface for PostgreSQL
type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Insert(ctx context.Context, params transaction.UpsertTransactionParams) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, category, date, authorized_date, name, amount, currency_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		params.ID, params.UserID, params.AccountID, params.Category,
		params.Date, params.AuthorizedDate, params.Name, params.Amount, params.CurrencyCode,
	)
	if err != nil {
		return mapWriteError("failed to insert transaction", err)
	}
	return nil
}

// Update never touches removed rows, so a tombstone cannot be modified back
// into view.
func (r *TransactionRepository) Update(ctx context.Context, params transaction.UpsertTransactionParams) error {
	query := `
		UPDATE transactions
		SET account_id = $2, category = $3, date = $4, authorized_date = $5,
		    name = $6, amount = $7, currency_code = $8, updated_at = NOW()
		WHERE id = $1 AND user_id = $9 AND NOT is_removed
	`

	result, err := r.db.ExecContext(ctx, query,
		params.ID, params.AccountID, params.Category, params.Date,
		params.AuthorizedDate, params.Name, params.Amount, params.CurrencyCode, params.UserID,
	)
	if err != nil {
		return mapWriteError("failed to update transaction", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) Tombstone(ctx context.Context, userID, id string) (string, error) {
	tombstoneID := id + transaction.TombstoneMarker + uuid.NewString()
	query := `
		UPDATE transactions
		SET id = $2, is_removed = TRUE, updated_at = NOW()
		WHERE id = $1 AND user_id = $3 AND NOT is_removed
	`

	result, err := r.db.ExecContext(ctx, query, id, tombstoneID, userID)
	if err != nil {
		return "", mapWriteError("failed to remove transaction", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return "", transaction.ErrTransactionNotFound
	}
	return tombstoneID, nil
}

func (r *TransactionRepository) Delete(ctx context.Context, userID, id string) error {
	query := `DELETE FROM transactions WHERE id = $1 AND user_id = $2 AND NOT is_removed`

	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return transaction.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, limit int) ([]*transaction.ListedTransaction, error) {
	query := `
		SELECT t.id, t.user_id, t.account_id, t.category, t.date, t.authorized_date,
		       t.name, t.amount, t.currency_code, t.is_removed,
		       a.name AS account_name, i.bank_name
		FROM transactions t
		LEFT JOIN accounts a ON a.id = t.account_id
		LEFT JOIN items i ON i.id = a.item_id
		WHERE t.user_id = $1 AND NOT t.is_removed
		ORDER BY t.date DESC NULLS LAST, t.created_at DESC
		LIMIT $2
	`

	var transactions []*transaction.ListedTransaction
	if err := r.db.SelectContext(ctx, &transactions, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}
