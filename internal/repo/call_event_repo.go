// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the CallEvent
// journal, which records each inbound-call webhook by provider call id so a
// redelivered webhook can be recognized.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

// ErrDuplicate indicates that a call event already exists for the given
// provider call id.
var ErrDuplicate = errors.New("duplicate")

// GetCallEvent returns the journal entry for callID or ErrNotFound.
func GetCallEvent(ctx context.Context, db *gorm.DB, callID string) (*domain.CallEvent, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, ErrNotFound
	}
	var ev domain.CallEvent
	err := db.WithContext(ctx).Where("call_id = ?", callID).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// CreateCallEvent journals a call and returns ErrDuplicate on unique violation.
func CreateCallEvent(ctx context.Context, db *gorm.DB, callID, dialed, outcome string, verificationID *string) (*domain.CallEvent, error) {
	ev := &domain.CallEvent{
		ID:             uuid.NewString(),
		CallID:         callID,
		DialedNumber:   dialed,
		Outcome:        outcome,
		VerificationID: verificationID,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(ev).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return ev, nil
}

// DeleteCallEventsBefore removes journal entries created before cutoff. A
// zero cutoff removes every entry.
func DeleteCallEventsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	q := db.WithContext(ctx)
	var res *gorm.DB
	if cutoff.IsZero() {
		res = q.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.CallEvent{})
	} else {
		res = q.Where("created_at < ?", cutoff.UTC()).Delete(&domain.CallEvent{})
	}
	return res.RowsAffected, res.Error
}
