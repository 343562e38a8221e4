package openfinance

import "errors"

var (
	// ErrItemNotFound is returned for unknown or already deactivated items.
	ErrItemNotFound = errors.New("item not found")
	// ErrNotOwner is returned when a user acts on an item linked by someone else.
	ErrNotOwner = errors.New("item belongs to another user")
	// ErrRetriesExhausted wraps the last transient failure once every attempt failed.
	ErrRetriesExhausted = errors.New("sync retries exhausted")
	// ErrTooManyPages aborts a page loop that never reports has_more=false.
	ErrTooManyPages = errors.New("too many sync pages")
	// ErrItemBusy is returned when another sync or deactivation holds the item.
	ErrItemBusy = errors.New("sync already in progress")
)
