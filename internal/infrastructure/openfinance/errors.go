package openfinance

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts,
	// rate limiting, provider-side 5xx and mutation-during-pagination.
	ErrTransient = errors.New("transient provider error")
	// ErrStructural marks failures a retry cannot fix: malformed pages and
	// rejected requests.
	ErrStructural = errors.New("structural provider error")
)

// TransientError wraps a retryable provider failure.
type TransientError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error (status %d, code %q): %v", e.Op, e.StatusCode, e.Code, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// StructuralError wraps a non-retryable provider failure.
type StructuralError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: structural provider error (status %d, code %q): %v", e.Op, e.StatusCode, e.Code, e.Err)
}

func (e *StructuralError) Unwrap() error { return e.Err }

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }
