package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/repo"
)

const (
	defaultSessionTTL = 24 * time.Hour
	maxTokenLen       = 64
)

// ValidToken reports whether tok has the shape of a session token: 1 to 64
// characters drawn from letters, digits, '-' and '_'.
func ValidToken(tok string) bool {
	if tok == "" || len(tok) > maxTokenLen {
		return false
	}
	for _, r := range tok {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// SessionService issues and resolves the opaque browser sessions that
// verification requests are keyed by.
type SessionService struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL <= 0 {
		return defaultSessionTTL
	}
	return s.TTL
}

// Issue creates a new session.
func (s *SessionService) Issue(ctx context.Context, userAgent string) (*domain.Session, error) {
	return repo.CreateSession(ctx, s.DB, strings.TrimSpace(userAgent), clock(s.Now), s.ttl())
}

// Resolve returns the live session for id, or ErrInvalidSession when id is
// malformed, unknown or expired.
func (s *SessionService) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	id = strings.TrimSpace(id)
	if !ValidToken(id) {
		return nil, ErrInvalidSession
	}
	sess, err := repo.GetSession(ctx, s.DB, id, clock(s.Now))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	return sess, err
}

// Refresh slides the session's expiry to now+TTL.
func (s *SessionService) Refresh(ctx context.Context, id string) error {
	err := repo.TouchSession(ctx, s.DB, id, clock(s.Now).Add(s.ttl()))
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidSession
	}
	return err
}

// Sweep deletes expired sessions and returns how many were removed.
func (s *SessionService) Sweep(ctx context.Context) (int64, error) {
	return repo.DeleteExpiredSessions(ctx, s.DB, clock(s.Now))
}
