// Package handlers exposes the HTTP endpoints of the verification service.
//
// Endpoints:
//   - GET  {base}/session                              (landing session + status)
//   - POST {base}/verifications/{sessionId}/assignment (lease a number)
//   - GET  {base}/verifications/{sessionId}            (poll for completion)
//   - GET  {base}/numbers                              (inventory, paginated, ETag)
//   - GET  /ses/{sessionId}                            (mobile tel: redirect)
//   - GET  /verified                                   (confirmation page)
//   - POST /twilio/voice                               (provider voice webhook)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses via ok() and failErr().
package handlers

import (
	"context"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/services"
)

//
// Service contracts (context-aware)
//

// PoolService defines the number-leasing operations consumed by handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type PoolService interface {
	// RequestAssignment leases a number to the session, or reports that the
	// session is already verified.
	RequestAssignment(ctx context.Context, token string) (*services.Assignment, error)
	// IsFinalized reports whether an inbound call completed the session.
	IsFinalized(ctx context.Context, token string) (bool, error)
	// Status returns the session's ledger row, nil when it has none.
	Status(ctx context.Context, token string) (*domain.Verification, error)
	// ListInventory returns a page of leased numbers and the total count.
	ListInventory(ctx context.Context, page, pageSize int) ([]domain.LeasedNumber, int64, error)
	// InventoryVersion returns a stamp that changes whenever the inventory
	// does.
	InventoryVersion(ctx context.Context) (*services.InventoryStamp, error)
}

// CallMatcher finalizes verifications from inbound-call webhooks.
type CallMatcher interface {
	Finalize(ctx context.Context, dialedNumber, callerNumber, callID string) (services.Outcome, error)
}

// SignatureVerifier authenticates provider webhook requests.
type SignatureVerifier interface {
	Validate(url string, params map[string]string, signature string) bool
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	pool    PoolService
	matcher CallMatcher

	// verifier is nil when webhook signature checks are disabled.
	verifier   SignatureVerifier
	webhookURL string
}

// New constructs Handlers bound to the given services. webhookURL is the
// public URL the provider signs voice webhooks against; pass a nil verifier
// to accept unsigned webhooks (local development only).
func New(pool PoolService, matcher CallMatcher, verifier SignatureVerifier, webhookURL string) *Handlers {
	return &Handlers{pool: pool, matcher: matcher, verifier: verifier, webhookURL: webhookURL}
}
