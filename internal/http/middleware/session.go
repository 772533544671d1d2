// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the browser session cookie. The session endpoint runs
// behind Session(), which guarantees that a server-issued, unexpired session
// ID is available to handlers through SessionID(c).
//
// Session() flow:
//   - A cookie naming a live session is refreshed (sliding expiry).
//   - A missing, malformed, or expired cookie is replaced by a new session.
//   - Storage failures abort with a JSON 500; no handler runs without a session.
//
// PathSession() covers links that carry the session ID in the URL (the mobile
// /ses/:sessionId link is opened on a different device than the one holding
// the cookie). The ID must name a live session; unknown IDs get a 400.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dial-verify/internal/domain"
	"github.com/tbourn/go-dial-verify/internal/services"
)

const (
	// SessionCookie is the name of the cookie carrying the session ID.
	SessionCookie = "sid"
	// sessionIDKey is the Gin context key under which the session ID is stored.
	sessionIDKey = "sessionID"
)

// SessionStore is the subset of services.SessionService the middleware needs.
type SessionStore interface {
	Issue(ctx context.Context, userAgent string) (*domain.Session, error)
	Resolve(ctx context.Context, id string) (*domain.Session, error)
	Refresh(ctx context.Context, id string) error
}

// SessionOptions configures the cookie written by Session.
type SessionOptions struct {
	TTL    time.Duration // cookie Max-Age; should match the store's TTL
	Secure bool          // send the cookie over HTTPS only
	Path   string        // defaults to "/"
}

// Session resolves or issues the caller's session and stores its ID in the
// Gin context.
func Session(store SessionStore, opts SessionOptions) gin.HandlerFunc {
	if opts.Path == "" {
		opts.Path = "/"
	}
	maxAge := int(opts.TTL / time.Second)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if id, err := c.Cookie(SessionCookie); err == nil && id != "" {
			if _, err := store.Resolve(ctx, id); err == nil {
				if err := store.Refresh(ctx, id); err == nil {
					setSessionCookie(c, id, maxAge, opts)
					c.Set(sessionIDKey, id)
					c.Next()
					return
				}
			}
		}

		s, err := store.Issue(ctx, c.Request.UserAgent())
		if err != nil {
			LoggerFrom(c).Error().Err(err).Msg("issue session")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "could not establish session")
			return
		}
		setSessionCookie(c, s.ID, maxAge, opts)
		c.Set(sessionIDKey, s.ID)
		c.Next()
	}
}

// PathSession validates the session named by the given path parameter and
// stores its ID in the Gin context. It never issues sessions.
func PathSession(store SessionStore, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if _, err := store.Resolve(c.Request.Context(), id); err != nil {
			if errors.Is(err, services.ErrInvalidSession) {
				abortJSON(c, http.StatusBadRequest, "bad_request", "invalid session")
				return
			}
			LoggerFrom(c).Error().Err(err).Msg("resolve session")
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		c.Set(sessionIDKey, id)
		c.Next()
	}
}

func setSessionCookie(c *gin.Context, id string, maxAge int, opts SessionOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, maxAge, opts.Path, "", opts.Secure, true)
}

// SessionID returns the session resolved by Session() or PathSession(), or ""
// outside them.
func SessionID(c *gin.Context) string {
	v, _ := c.Get(sessionIDKey)
	return asString(v)
}
