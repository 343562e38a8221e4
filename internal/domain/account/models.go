package account

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidInput = errors.New("invalid input")

// Account is a single bank account reachable through an item. Accounts are
// registered when an item is linked or lazily the first time a synced
// transaction references them; they are never deleted on their own.
type Account struct {
	ID        string    `json:"id" db:"id"`
	ItemID    string    `json:"itemId" db:"item_id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// EnsureParams describes an account that must exist before transactions
// referencing it are stored.
type EnsureParams struct {
	ID     string
	ItemID string
	Name   string
}

func (p EnsureParams) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.ItemID) == "" {
		return ErrInvalidInput
	}
	return nil
}
