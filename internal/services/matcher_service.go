// Package services – MatcherService
//
// MatcherService correlates inbound calls with pending verifications. A call
// to a number that a live, unfinalized verification holds completes that
// verification by recording the caller. Every other call is a normal no-op.
// Each call is journaled by provider call id, so a redelivered webhook is
// recognized and never matched twice, and the provider's call log is purged
// afterwards.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/observability"
	"github.com/tbourn/go-dial-verify/internal/repo"
)

// Outcome is the result of correlating one inbound call.
type Outcome string

const (
	// OutcomeMatched means the call completed a pending verification.
	OutcomeMatched Outcome = domain.CallOutcomeMatched
	// OutcomeUnmatched means no live verification held the dialed number.
	OutcomeUnmatched Outcome = domain.CallOutcomeUnmatched
	// OutcomeDuplicate means the call id was already processed.
	OutcomeDuplicate Outcome = domain.CallOutcomeDuplicate
)

// CallLogScheduler queues a provider call-log deletion.
type CallLogScheduler interface {
	Schedule(callID string)
}

// errDuplicateCall unwinds the finalize transaction when the journal insert
// finds the call id already recorded.
var errDuplicateCall = errors.New("duplicate call")

// MatcherService finalizes verifications from inbound calls.
type MatcherService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Purger receives the call id of every processed call. May be nil.
	Purger CallLogScheduler
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Finalize records callerNumber on the verification that currently holds
// dialedNumber. The write is conditional on the caller still being unset, so
// a verification is finalized at most once and its caller never changes.
//
// callID identifies the call at the provider. When non-empty the call is
// journaled and its provider call log is scheduled for deletion whether or
// not it matched. A call id seen before yields OutcomeDuplicate.
func (s *MatcherService) Finalize(ctx context.Context, dialedNumber, callerNumber, callID string) (Outcome, error) {
	tr := otel.Tracer("services/MatcherService")
	ctx, span := tr.Start(ctx, "Finalize",
		trace.WithAttributes(attribute.String("call.id", callID)),
	)
	defer span.End()

	dialed := strings.TrimSpace(dialedNumber)
	caller := strings.TrimSpace(callerNumber)
	callID = strings.TrimSpace(callID)
	now := clock(s.Now)

	var (
		outcome        Outcome
		verificationID *string
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome, verificationID = OutcomeUnmatched, nil

		if callID != "" {
			_, err := repo.GetCallEvent(ctx, tx, callID)
			if err == nil {
				outcome = OutcomeDuplicate
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}

		if dialed != "" && caller != "" {
			v, err := repo.FindActiveByNumber(ctx, tx, dialed, now)
			switch {
			case err == nil:
				n, err := repo.MarkVerified(ctx, tx, v.ID, caller, now)
				if err != nil {
					return err
				}
				if n == 1 {
					outcome = OutcomeMatched
					id := v.ID
					verificationID = &id
				}
			case errors.Is(err, repo.ErrNotFound):
			default:
				return err
			}
		}

		if callID == "" {
			return nil
		}
		_, err := repo.CreateCallEvent(ctx, tx, callID, dialed, string(outcome), verificationID)
		if errors.Is(err, repo.ErrDuplicate) {
			return errDuplicateCall
		}
		return err
	})
	if errors.Is(err, errDuplicateCall) {
		outcome, verificationID, err = OutcomeDuplicate, nil, nil
	}

	if outcome != OutcomeDuplicate && callID != "" && s.Purger != nil {
		s.Purger.Schedule(callID)
	}

	if err != nil {
		span.RecordError(err)
		return "", storeErr(err)
	}

	span.SetAttributes(attribute.String("call.outcome", string(outcome)))
	observability.Finalizations.WithLabelValues(string(outcome)).Inc()

	ev := log.Ctx(ctx).Info()
	if outcome != OutcomeMatched {
		ev = log.Ctx(ctx).Debug()
	}
	ev.Str("call_id", callID).Str("outcome", string(outcome)).Msg("inbound call processed")
	return outcome, nil
}
