// Package services – PoolService
//
// PoolService owns the leased-number pool. It hands a number to a session
// (reusing an idle number, extending the session's live assignment, or
// buying a new one from the provider), answers whether a session has been
// verified, and reconciles the local inventory with the provider at startup.
//
// Every read-decide-write sequence on the ledger runs in one transaction and
// re-checks exclusivity at write time, so two sessions never hold the same
// number while both assignments are live. A write that loses a race returns
// ErrResourceRace and leaves nothing behind.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/observability"
	"github.com/tbourn/go-dial-verify/internal/repo"
	"github.com/tbourn/go-dial-verify/internal/utils"
)

const (
	defaultValidity    = 15 * time.Second
	defaultLeaseMonths = 1
)

// Assignment is the result of RequestAssignment. When Verified is true the
// session is already verified and no number was handed out.
type Assignment struct {
	PhoneNumber string
	ExpiresAt   time.Time
	Verified    bool
}

// ReconcileReport summarizes a startup inventory reconciliation.
type ReconcileReport struct {
	Imported int
	Pruned   int
	Kept     int
	// Rerouted counts numbers whose voice webhook was repointed here.
	Rerouted int
	// Unrouted counts numbers left out of the inventory because their
	// webhook could not be repointed.
	Unrouted int
}

// PoolService allocates leased numbers to sessions.
type PoolService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Provider buys numbers when the pool has no idle one. May be nil in
	// environments without credentials; purchases then fail with a
	// *ProviderError.
	Provider Provider

	// Validity is how long an assignment stays live without re-request.
	Validity time.Duration
	// LeaseMonths is the provider lease term for purchased numbers.
	LeaseMonths int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NewPoolService constructs a PoolService with default windows.
func NewPoolService(db *gorm.DB, p Provider) *PoolService {
	return &PoolService{
		DB:          db,
		Provider:    p,
		Validity:    defaultValidity,
		LeaseMonths: defaultLeaseMonths,
	}
}

func (s *PoolService) validity() time.Duration {
	if s.Validity <= 0 {
		return defaultValidity
	}
	return s.Validity
}

func (s *PoolService) leaseMonths() int {
	if s.LeaseMonths <= 0 {
		return defaultLeaseMonths
	}
	return s.LeaseMonths
}

// RequestAssignment returns the number the session should dial.
//
// Semantics:
//   - finalized session: Assignment{Verified: true}, nothing written;
//   - live assignment: the same number, with its expiry pushed to now+Validity;
//   - otherwise: the idle number with the oldest lease, or a freshly
//     purchased one, bound to the session until now+Validity.
//
// Errors: ErrInvalidSession for a malformed token, *ProviderError when a
// purchase fails (ledger untouched), ErrResourceRace when a concurrent writer
// won, or the raw storage error.
func (s *PoolService) RequestAssignment(ctx context.Context, token string) (*Assignment, error) {
	tr := otel.Tracer("services/PoolService")
	ctx, span := tr.Start(ctx, "RequestAssignment")
	defer span.End()

	token = strings.TrimSpace(token)
	if !ValidToken(token) {
		return nil, ErrInvalidSession
	}

	a, result, err := s.requestAssignment(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, ErrResourceRace):
			result = "race"
		default:
			result = "error"
		}
		span.RecordError(err)
	}
	span.SetAttributes(attribute.String("assignment.result", result))
	observability.Assignments.WithLabelValues(result).Inc()
	return a, err
}

func (s *PoolService) requestAssignment(ctx context.Context, token string) (*Assignment, string, error) {
	now := clock(s.Now)
	expiry := now.Add(s.validity())

	v, err := s.lookup(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if v != nil && v.Finalized() {
		return &Assignment{Verified: true}, "verified", nil
	}

	if v != nil && v.ActiveAt(now) {
		n, err := repo.ExtendAssignment(ctx, s.DB, v.ID, now, expiry)
		if err != nil {
			return nil, "", storeErr(err)
		}
		if n == 1 {
			return &Assignment{PhoneNumber: *v.AssignedNumber, ExpiresAt: expiry}, "extended", nil
		}
		// Finalized or expired since the read.
		if v, err = s.lookup(ctx, token); err != nil {
			return nil, "", err
		}
		if v != nil && v.Finalized() {
			return &Assignment{Verified: true}, "verified", nil
		}
	}

	num, purchased, err := s.pickNumber(ctx, now)
	if err != nil {
		return nil, "", err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exclude := ""
		if v != nil {
			exclude = v.ID
		}
		holders, err := repo.CountActiveHolders(ctx, tx, num.PhoneNumber, now, exclude)
		if err != nil {
			return err
		}
		if holders > 0 {
			return ErrResourceRace
		}
		if v == nil {
			_, err = repo.CreateVerification(ctx, tx, token, num.PhoneNumber, expiry)
			return err
		}
		n, err := repo.AssignNumber(ctx, tx, v.ID, num.PhoneNumber, expiry)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrResourceRace
		}
		return nil
	})
	if err != nil {
		return nil, "", storeErr(err)
	}

	result := "assigned"
	if purchased {
		result = "purchased"
	}
	log.Ctx(ctx).Debug().
		Str("number_ref", num.ProviderRef).
		Str("result", result).
		Msg("number assigned")
	return &Assignment{PhoneNumber: num.PhoneNumber, ExpiresAt: expiry}, result, nil
}

// lookup returns the session's ledger row, or nil when there is none.
func (s *PoolService) lookup(ctx context.Context, token string) (*domain.Verification, error) {
	v, err := repo.GetVerificationBySession(ctx, s.DB, token)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// pickNumber returns an idle inventory number, buying one when none is idle.
// The bool reports whether a purchase happened.
func (s *PoolService) pickNumber(ctx context.Context, now time.Time) (*domain.LeasedNumber, bool, error) {
	n, err := repo.FindFreeNumber(ctx, s.DB, now)
	if err == nil {
		return n, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, false, err
	}

	if s.Provider == nil {
		return nil, false, &ProviderError{Op: "purchase", Err: errors.New("no telephony provider configured")}
	}
	bought, err := s.Provider.PurchaseNumber(ctx)
	if err != nil {
		return nil, false, &ProviderError{Op: "purchase", Err: err}
	}
	observability.NumbersPurchased.Inc()

	// A paid number is recorded even if the caller has gone away, so the
	// next request can use it.
	keep := context.WithoutCancel(ctx)
	row, err := repo.CreateNumber(keep, s.DB, bought.Ref, bought.PhoneNumber, LeaseExpiry(now, s.leaseMonths()))
	if repo.IsUniqueViolation(err) {
		// Imported concurrently (e.g. by reconciliation).
		row, err = repo.GetNumberByRef(keep, s.DB, bought.Ref)
	}
	if err != nil {
		return nil, false, err
	}
	observability.InventorySize.Inc()
	return row, true, nil
}

// IsFinalized reports whether the session's verification has been completed
// by an inbound call. It never writes.
func (s *PoolService) IsFinalized(ctx context.Context, token string) (bool, error) {
	v, err := s.Status(ctx, token)
	if err != nil || v == nil {
		return false, err
	}
	return v.Finalized(), nil
}

// Status returns the session's ledger row, or nil when the session has not
// requested a number yet.
func (s *PoolService) Status(ctx context.Context, token string) (*domain.Verification, error) {
	tr := otel.Tracer("services/PoolService")
	ctx, span := tr.Start(ctx, "Status")
	defer span.End()

	token = strings.TrimSpace(token)
	if !ValidToken(token) {
		return nil, ErrInvalidSession
	}
	return s.lookup(ctx, token)
}

// ReconcileInventory aligns the local inventory with the numbers the provider
// actually holds: unknown provider numbers are imported with a lease derived
// from their creation date, and local rows the provider no longer reports are
// pruned. Numbers whose voice webhook points elsewhere (an older deployment
// or another APP_URL) are repointed first; an unknown number that cannot be
// repointed is not imported, since its calls would never reach this server.
func (s *PoolService) ReconcileInventory(ctx context.Context) (*ReconcileReport, error) {
	tr := otel.Tracer("services/PoolService")
	ctx, span := tr.Start(ctx, "ReconcileInventory")
	defer span.End()

	if s.Provider == nil {
		return nil, &ProviderError{Op: "list", Err: errors.New("no telephony provider configured")}
	}
	remote, err := s.Provider.ListNumbers(ctx)
	if err != nil {
		return nil, &ProviderError{Op: "list", Err: err}
	}
	local, err := repo.ListNumbers(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	known := make(map[string]domain.LeasedNumber, len(local))
	for _, n := range local {
		known[n.ProviderRef] = n
	}

	rep := &ReconcileReport{}
	held := make(map[string]struct{}, len(remote))
	for _, n := range remote {
		held[n.Ref] = struct{}{}
		_, isKnown := known[n.Ref]
		if !n.Routed {
			if err := s.Provider.RouteNumber(ctx, n.Ref); err != nil {
				rep.Unrouted++
				log.Warn().Err(err).Str("number_ref", n.Ref).Bool("in_inventory", isKnown).
					Msg("reconcile: cannot repoint voice webhook")
				if !isKnown {
					continue
				}
			} else {
				rep.Rerouted++
			}
		}
		if isKnown {
			rep.Kept++
			continue
		}
		if _, err := repo.CreateNumber(ctx, s.DB, n.Ref, n.PhoneNumber, LeaseExpiry(n.CreatedAt, s.leaseMonths())); err != nil {
			if repo.IsUniqueViolation(err) {
				log.Warn().Str("number_ref", n.Ref).Msg("reconcile: number already in inventory under another ref")
				continue
			}
			return rep, err
		}
		rep.Imported++
	}

	for ref, n := range known {
		if _, ok := held[ref]; ok {
			continue
		}
		if err := repo.DeleteNumber(ctx, s.DB, n.ID); err != nil {
			return rep, err
		}
		rep.Pruned++
	}

	if total, err := repo.CountNumbers(ctx, s.DB); err == nil {
		observability.InventorySize.Set(float64(total))
	}

	span.SetAttributes(
		attribute.Int("reconcile.imported", rep.Imported),
		attribute.Int("reconcile.pruned", rep.Pruned),
	)
	log.Info().
		Int("imported", rep.Imported).
		Int("pruned", rep.Pruned).
		Int("kept", rep.Kept).
		Int("rerouted", rep.Rerouted).
		Int("unrouted", rep.Unrouted).
		Msg("inventory reconciled")
	return rep, nil
}

// ListInventory returns one page of leased numbers (soonest lease expiry
// first) and the total inventory size. page is 1-based.
func (s *PoolService) ListInventory(ctx context.Context, page, pageSize int) ([]domain.LeasedNumber, int64, error) {
	p := utils.NewPage(page, pageSize)
	total, err := repo.CountNumbers(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListNumbersPage(ctx, s.DB, p.Offset(), p.Size)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// InventoryStamp identifies one state of the inventory for cache validation.
type InventoryStamp struct {
	Count int64
	// Newest is the latest creation time, zero when the inventory is empty.
	Newest time.Time
	// Digest covers every row's id, phone number and lease expiry.
	Digest uint64
}

// InventoryVersion summarizes the inventory for cache validation.
func (s *PoolService) InventoryVersion(ctx context.Context) (*InventoryStamp, error) {
	count, maxCreated, err := repo.NumbersStats(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	digest, err := repo.NumbersDigest(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	st := &InventoryStamp{Count: count, Digest: digest}
	if maxCreated != nil {
		st.Newest = *maxCreated
	}
	return st, nil
}

// storeErr maps write conflicts to ErrResourceRace and passes everything
// else through.
func storeErr(err error) error {
	if errors.Is(err, ErrResourceRace) || repo.IsConflict(err) {
		return ErrResourceRace
	}
	return err
}
