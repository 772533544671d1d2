package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
)

// CreateSession issues a new opaque session that expires after ttl.
func CreateSession(ctx context.Context, db *gorm.DB, userAgent string, now time.Time, ttl time.Duration) (*domain.Session, error) {
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	s := &domain.Session{
		ID:        uuid.NewString(),
		UserAgent: userAgent,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(ttl),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession returns a session that is still valid at now, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, now.UTC()).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// TouchSession moves a session's expiry to expiresAt.
func TouchSession(ctx context.Context, db *gorm.DB, id string, expiresAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func DeleteExpiredSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.Session{})
	return res.RowsAffected, res.Error
}
