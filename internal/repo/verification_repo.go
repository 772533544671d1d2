// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Verification ledger.
//
// Writes that must not clobber a concurrent finalization are conditional:
// they only match rows whose caller_number is still NULL and report the
// number of rows they touched so the service layer can detect a lost race.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

// GetVerificationBySession returns the ledger row for a session token, or
// ErrNotFound.
func GetVerificationBySession(ctx context.Context, db *gorm.DB, token string) (*domain.Verification, error) {
	var v domain.Verification
	if err := db.WithContext(ctx).Where("session_token = ?", token).First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVerification inserts a new ledger row binding token to number until
// expiry. A second row for the same token fails the unique session index.
func CreateVerification(ctx context.Context, db *gorm.DB, token, number string, expiry time.Time) (*domain.Verification, error) {
	now := time.Now().UTC()
	v := &domain.Verification{
		ID:               uuid.NewString(),
		SessionToken:     token,
		AssignedNumber:   &number,
		AssignmentExpiry: expiry.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := db.WithContext(ctx).Create(v).Error; err != nil {
		return nil, err
	}
	return v, nil
}

// AssignNumber points an existing, unfinalized row at number until expiry.
// It returns the number of rows updated (0 when the row was finalized or
// deleted in the meantime).
func AssignNumber(ctx context.Context, db *gorm.DB, id, number string, expiry time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Verification{}).
		Where("id = ? AND caller_number IS NULL", id).
		Updates(map[string]any{
			"assigned_number":   number,
			"assignment_expiry": expiry.UTC(),
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// ExtendAssignment pushes the expiry of a row that still actively holds its
// number at now. It returns the number of rows updated.
func ExtendAssignment(ctx context.Context, db *gorm.DB, id string, now, expiry time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Verification{}).
		Where("id = ? AND caller_number IS NULL AND assigned_number IS NOT NULL AND assignment_expiry >= ?", id, now.UTC()).
		Updates(map[string]any{
			"assignment_expiry": expiry.UTC(),
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// FindActiveByNumber returns the unfinalized verification that holds number
// at now, or ErrNotFound.
func FindActiveByNumber(ctx context.Context, db *gorm.DB, number string, now time.Time) (*domain.Verification, error) {
	var v domain.Verification
	err := db.WithContext(ctx).
		Where("assigned_number = ? AND caller_number IS NULL AND assignment_expiry >= ?", number, now.UTC()).
		Order("assignment_expiry desc").
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CountActiveHolders counts unfinalized verifications other than excludeID
// that hold number at now.
func CountActiveHolders(ctx context.Context, db *gorm.DB, number string, now time.Time, excludeID string) (int64, error) {
	var n int64
	q := db.WithContext(ctx).
		Model(&domain.Verification{}).
		Where("assigned_number = ? AND caller_number IS NULL AND assignment_expiry >= ?", number, now.UTC())
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	err := q.Count(&n).Error
	return n, err
}

// MarkVerified records the caller on a row exactly once and stamps the
// assignment expiry with at. It returns the number of rows updated; 0 means
// the row was already finalized.
func MarkVerified(ctx context.Context, db *gorm.DB, id, caller string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Verification{}).
		Where("id = ? AND caller_number IS NULL", id).
		Updates(map[string]any{
			"caller_number":     caller,
			"assignment_expiry": at.UTC(),
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// DeleteVerificationsBefore deletes ledger rows whose assignment expiry is
// older than cutoff. A zero cutoff deletes every row.
func DeleteVerificationsBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	q := db.WithContext(ctx)
	var res *gorm.DB
	if cutoff.IsZero() {
		res = q.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.Verification{})
	} else {
		res = q.Where("assignment_expiry < ?", cutoff.UTC()).Delete(&domain.Verification{})
	}
	return res.RowsAffected, res.Error
}
