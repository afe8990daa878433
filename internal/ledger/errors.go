package ledger

import (
	"errors"
	"fmt"
)

// ErrTokenNotFound indicates the queried rights token does not exist on the
// ledger (it may have been burned).
var ErrTokenNotFound = errors.New("rights token not found")

// Error is a ledger gateway failure. Transient failures (timeouts, rate
// limits, temporary unavailability) are retryable; terminal ones (malformed
// transaction, insufficient funds, expired escrow condition) are not.
type Error struct {
	Op        string
	Code      string
	Message   string
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %s (%s)", e.Op, e.Message, e.Code)
}

// IsTransient reports whether err is a retryable gateway failure.
func IsTransient(err error) bool {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Transient
	}
	return false
}
