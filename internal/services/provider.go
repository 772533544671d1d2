package services

import (
	"context"
	"time"

	"github.com/tbourn/go-dial-verify/internal/telephony"
)

// Provider is the telephony capability the engine depends on. A single
// long-lived implementation is built at startup and injected into every
// service that needs it; *telephony.Twilio satisfies it.
type Provider interface {
	// ListNumbers returns every number the provider account currently holds.
	ListNumbers(ctx context.Context) ([]telephony.Number, error)
	// PurchaseNumber buys a new number wired to the voice webhook.
	PurchaseNumber(ctx context.Context) (*telephony.Number, error)
	// RouteNumber points the number's voice webhook at this deployment.
	RouteNumber(ctx context.Context, providerRef string) error
	// ReleaseNumber relinquishes the number identified by providerRef.
	ReleaseNumber(ctx context.Context, providerRef string) error
	// DeleteCallLog removes the provider's record of a call.
	DeleteCallLog(ctx context.Context, callID string) error
}

// clock returns now() in UTC, or the wall clock when now is nil.
func clock(now func() time.Time) time.Time {
	if now != nil {
		return now().UTC()
	}
	return time.Now().UTC()
}

// LeaseExpiry returns the start of the UTC day that falls months calendar
// months after acquired. Month overflow clamps to the last day of the target
// month, so Jan 31 + 1 month is Feb 28 (or 29).
func LeaseExpiry(acquired time.Time, months int) time.Time {
	a := acquired.UTC()
	y, m, d := a.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
