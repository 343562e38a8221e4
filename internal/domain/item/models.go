package item

import (
	"errors"
	"strings"
	"time"
)

// RevokedCredential overwrites the access token of a deactivated item. It is
// never sent to the provider.
const RevokedCredential = "REVOKED"

var ErrInvalidInput = errors.New("invalid input")

// Item represents a connection/relationship with a financial institution via the provider.
// One Item can have multiple Accounts (e.g., checking + credit card from same bank).
type Item struct {
	ID                string    `json:"id" db:"id"` // Provider's item_id
	UserID            string    `json:"userId" db:"user_id"`
	AccessToken       string    `json:"-" db:"access_token"`
	TransactionCursor *string   `json:"-" db:"transaction_cursor"`
	BankName          *string   `json:"bankName,omitempty" db:"bank_name"`
	IsActive          bool      `json:"isActive" db:"is_active"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// SyncState is what a sync run needs to know about an active item.
type SyncState struct {
	ItemID      string  `db:"id"`
	UserID      string  `db:"user_id"`
	AccessToken string  `db:"access_token"`
	Cursor      *string `db:"transaction_cursor"`
}

// CursorOrEmpty returns the stored cursor, or "" when the item never synced.
func (s *SyncState) CursorOrEmpty() string {
	if s.Cursor == nil {
		return ""
	}
	return *s.Cursor
}

// CreateParams registers an item whose access credential was already
// obtained from the provider.
type CreateParams struct {
	ID          string
	UserID      string
	AccessToken string
	BankName    *string
}

func (p CreateParams) Validate() error {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.UserID) == "" {
		return ErrInvalidInput
	}
	if p.AccessToken == "" || p.AccessToken == RevokedCredential {
		return ErrInvalidInput
	}
	return nil
}
