package transaction

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TombstoneMarker separates the original provider id from the random suffix
// of a removed transaction's id.
const TombstoneMarker = "-REMOVED-"

var (
	// ErrConstraintViolation is returned when a write would break a storage
	// constraint (duplicate live id, unknown account, ...). Sync callers log and
	// skip the record.
	ErrConstraintViolation = errors.New("storage constraint violation")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transaction is the local mirror of a provider transaction.
type Transaction struct {
	ID             string          `json:"id" db:"id"` // Provider's transaction id, or a tombstone id once removed
	UserID         string          `json:"userId" db:"user_id"`
	AccountID      string          `json:"accountId" db:"account_id"`
	Category       *string         `json:"category,omitempty" db:"category"`
	Date           *time.Time      `json:"date,omitempty" db:"date"`
	AuthorizedDate *time.Time      `json:"authorizedDate,omitempty" db:"authorized_date"`
	Name           string          `json:"name" db:"name"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	CurrencyCode   *string         `json:"currencyCode,omitempty" db:"currency_code"`
	IsRemoved      bool            `json:"isRemoved" db:"is_removed"`
}

// ListedTransaction is a live transaction joined with the names a client
// needs to render it.
type ListedTransaction struct {
	Transaction
	AccountName *string `json:"accountName,omitempty" db:"account_name"`
	BankName    *string `json:"bankName,omitempty" db:"bank_name"`
}

// UpsertTransactionParams carries every provider-owned field of a transaction.
// It is used both to insert added transactions and to overwrite the mutable
// fields of modified ones.
type UpsertTransactionParams struct {
	ID             string
	UserID         string
	AccountID      string
	Category       *string
	Date           *time.Time
	AuthorizedDate *time.Time
	Name           string
	Amount         decimal.Decimal
	CurrencyCode   *string
}

// IsTombstoneID reports whether id was produced by a removal.
func IsTombstoneID(id string) bool {
	return strings.Contains(id, TombstoneMarker)
}
