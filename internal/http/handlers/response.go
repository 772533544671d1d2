// Package handlers implements the HTTP endpoints. Every error leaves through
// fail or failErr as an ErrorResponse with a stable code; clients branch on
// the code, never on the message.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dial-verify/internal/http/middleware"
	"github.com/tbourn/go-dial-verify/internal/services"
)

// ErrorResponse is the error envelope returned by all endpoints.
type ErrorResponse struct {
	// Echo of X-Request-ID for correlating client reports with server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts with the envelope. 5xx responses are logged with the
// request-scoped logger together with the last error attached to the context.
func fail(c *gin.Context, status int, code, msg string) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().Int("status", status).Str("code", code)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg(msg)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// Fail lets the router write the envelope for its fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// failErr maps a service error onto the error envelope. Unknown errors are
// reported as 500 with a generic message so internals never leak.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidSession):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid session")
	case errors.Is(err, services.ErrAlreadyVerified):
		fail(c, http.StatusConflict, ErrCodeAlreadyVerified, "session already verified")
	case errors.Is(err, services.ErrResourceRace):
		c.Header("Retry-After", "1")
		fail(c, http.StatusConflict, ErrCodeConflict, "number assignment raced with another session, retry")
	case services.IsProviderError(err):
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, ErrCodeProviderFailed, "telephony provider unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "request cancelled")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
