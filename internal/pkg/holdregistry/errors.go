package holdregistry

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrHoldNotFound means the hold hash is absent from the fast store,
	// either because it never existed or because it was terminalized.
	ErrHoldNotFound = errors.New("hold not found")
	// ErrHoldAlreadyUsed means the hold was already consumed by a paid order.
	ErrHoldAlreadyUsed = errors.New("hold already used")
	// ErrConcurrentModification is surfaced after optimistic retries are
	// exhausted on a hold mutation.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// HoldExpiredError reports an attempt to use a hold past its deadline.
type HoldExpiredError struct {
	HoldID    string
	ExpiresAt time.Time
}

func (e *HoldExpiredError) Error() string {
	return fmt.Sprintf("hold %s expired at %s", e.HoldID, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// HoldNotExpiredError reports a premature expire attempt.
type HoldNotExpiredError struct {
	HoldID           string
	ExpiresAt        time.Time
	SecondsRemaining int64
}

func (e *HoldNotExpiredError) Error() string {
	return fmt.Sprintf("hold %s not expired yet: %ds remaining (expires %s)",
		e.HoldID, e.SecondsRemaining, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// HoldInvalidError covers holds in a state that cannot serve the request.
type HoldInvalidError struct {
	HoldID string
	Reason string
}

func (e *HoldInvalidError) Error() string {
	return fmt.Sprintf("hold %s invalid: %s", e.HoldID, e.Reason)
}
