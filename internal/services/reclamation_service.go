// Package services – ReclamationService
//
// ReclamationService is the daily maintenance job. It releases every leased
// number whose provider lease has lapsed (the only path that shrinks the
// inventory) and then resets the verification ledger.
//
// Numbers are processed one at a time and independently: a failure to
// release one number is logged, counted and reported, but never stops the
// others. A number whose release fails stays in inventory and is retried on
// the next run.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/observability"
	"github.com/tbourn/go-dial-verify/internal/repo"
)

// ReclamationReport summarizes one reclamation run.
type ReclamationReport struct {
	Expired              int
	Released             int
	Failed               int
	VerificationsDeleted int64
	CallEventsDeleted    int64
}

// ReclamationService releases lease-expired numbers and resets the ledger.
type ReclamationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Provider releases numbers.
	Provider Provider
	// Retention selects the ledger reset policy. Zero wipes every
	// verification and call event; a positive value deletes only rows older
	// than now-Retention.
	Retention time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// RunDailyReclamation releases each number with LeaseExpiry <= now at the
// provider and deletes its inventory row, then applies the ledger reset.
// Numbers with a lease still in the future are never touched.
//
// The returned error joins every per-number and reset failure; the report is
// always returned so callers can log partial progress.
func (s *ReclamationService) RunDailyReclamation(ctx context.Context) (*ReclamationReport, error) {
	tr := otel.Tracer("services/ReclamationService")
	ctx, span := tr.Start(ctx, "RunDailyReclamation")
	defer span.End()

	start := time.Now()
	defer func() { observability.ReclamationDuration.Observe(time.Since(start).Seconds()) }()

	now := clock(s.Now)
	rep := &ReclamationReport{}

	expired, err := repo.ListExpiredNumbers(ctx, s.DB, now)
	if err != nil {
		span.RecordError(err)
		return rep, err
	}
	rep.Expired = len(expired)

	var errs []error
	for _, n := range expired {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.release(ctx, n); err != nil {
			rep.Failed++
			errs = append(errs, err)
			observability.NumbersReleased.WithLabelValues("failed").Inc()
			log.Error().Err(err).Str("number_ref", n.ProviderRef).Msg("release expired number")
			continue
		}
		rep.Released++
		observability.NumbersReleased.WithLabelValues("released").Inc()
	}

	var cutoff time.Time
	if s.Retention > 0 {
		cutoff = now.Add(-s.Retention)
	}
	if rep.VerificationsDeleted, err = repo.DeleteVerificationsBefore(ctx, s.DB, cutoff); err != nil {
		errs = append(errs, err)
	}
	if rep.CallEventsDeleted, err = repo.DeleteCallEventsBefore(ctx, s.DB, cutoff); err != nil {
		errs = append(errs, err)
	}

	if total, err := repo.CountNumbers(ctx, s.DB); err == nil {
		observability.InventorySize.Set(float64(total))
	}

	span.SetAttributes(
		attribute.Int("reclaim.expired", rep.Expired),
		attribute.Int("reclaim.released", rep.Released),
		attribute.Int("reclaim.failed", rep.Failed),
		attribute.Int64("reclaim.verifications_deleted", rep.VerificationsDeleted),
	)
	log.Info().
		Int("expired", rep.Expired).
		Int("released", rep.Released).
		Int("failed", rep.Failed).
		Int64("verifications_deleted", rep.VerificationsDeleted).
		Int64("call_events_deleted", rep.CallEventsDeleted).
		Msg("daily reclamation finished")

	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return rep, err
}

// release gives n back to the provider and, once the provider confirmed,
// removes it from inventory.
func (s *ReclamationService) release(ctx context.Context, n domain.LeasedNumber) error {
	if s.Provider == nil {
		return &ProviderError{Op: "release", Err: errors.New("no telephony provider configured")}
	}
	if err := s.Provider.ReleaseNumber(ctx, n.ProviderRef); err != nil {
		return &ProviderError{Op: "release", Err: err}
	}
	return repo.DeleteNumber(ctx, s.DB, n.ID)
}
