// Package services defines the business logic for number leasing,
// verification correlation and reclamation. This file centralizes the
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into HTTP status codes is performed by the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSession is returned when a session token is missing or
	// malformed. Nothing is written.
	ErrInvalidSession = errors.New("invalid session token")

	// ErrResourceRace is returned when a concurrent writer won the race for
	// the same number or ledger row. The operation left no partial write and
	// can be retried.
	ErrResourceRace = errors.New("concurrent update, retry")

	// ErrAlreadyVerified indicates that the session's verification is
	// already finalized, so no number is handed out.
	ErrAlreadyVerified = errors.New("session already verified")
)

// ProviderError wraps a failure of the telephony provider. Op names the
// provider operation that failed (purchase, release, list, delete_call).
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
