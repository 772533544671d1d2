// Verification HTTP handlers.
//
// This file exposes the endpoints a browser uses during a verification:
//   - POST /verifications/{sessionId}/assignment  (lease a number)
//   - GET  /verifications/{sessionId}             (poll for completion)
//   - GET  /session                               (landing page bootstrap)
//
// The mobile link (/ses/{sessionId}) and its confirmation page live here too,
// since they are the same operation answered with a redirect.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dial-verify/internal/http/middleware"
	"github.com/tbourn/go-dial-verify/internal/services"
)

// VerifiedMessage is the body of the /verified confirmation page.
const VerifiedMessage = "Session is verified. You can close this window."

//
// DTOs
//

// AssignmentResponse carries the number the session must dial.
type AssignmentResponse struct {
	// PhoneNumber is the leased number in E.164 form.
	PhoneNumber string `json:"phone_number" example:"+15550001234"`
	// ExpiresAt is the deadline for the inbound call (RFC 3339, UTC).
	ExpiresAt time.Time `json:"expires_at" example:"2024-03-10T12:00:15Z"`
}

// VerificationStatusResponse is returned by the polling endpoint.
type VerificationStatusResponse struct {
	Verified bool `json:"verified" example:"false"`
}

// SessionResponse bootstraps the landing page.
type SessionResponse struct {
	SessionID    string  `json:"session_id" example:"0b7e4c1a9d2f4e8a"`
	Verified     bool    `json:"verified" example:"true"`
	CallerNumber *string `json:"caller_number,omitempty" example:"+15557654321"`
}

//
// Handlers
//

// RequestAssignment godoc
// @ID          requestAssignment
// @Summary     Lease a number for the session
// @Description Returns the number the user must call and the deadline. Re-requests before the deadline return the same number with a later deadline.
// @Tags        Verifications
// @Produce     json
//
// @Param       sessionId  path  string  true  "Session ID"  example(0b7e4c1a9d2f4e8a)
//
// @Success     200  {object}  handlers.AssignmentResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session"
// @Failure     409  {object}  handlers.ErrorResponse  "Already verified, or lost a race (see Retry-After)"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     502  {object}  handlers.ErrorResponse  "Telephony provider failure"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /verifications/{sessionId}/assignment [post]
func (h *Handlers) RequestAssignment(c *gin.Context) {
	a, err := h.pool.RequestAssignment(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		failErr(c, err)
		return
	}
	if a.Verified {
		failErr(c, services.ErrAlreadyVerified)
		return
	}
	ok(c, http.StatusOK, AssignmentResponse{PhoneNumber: a.PhoneNumber, ExpiresAt: a.ExpiresAt})
}

// GetVerification godoc
// @ID          getVerification
// @Summary     Poll verification status
// @Description Reports whether an inbound call has completed the session's verification. Never writes.
// @Tags        Verifications
// @Produce     json
//
// @Param       sessionId  path  string  true  "Session ID"  example(0b7e4c1a9d2f4e8a)
//
// @Success     200  {object}  handlers.VerificationStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /verifications/{sessionId} [get]
func (h *Handlers) GetVerification(c *gin.Context) {
	done, err := h.pool.IsFinalized(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, VerificationStatusResponse{Verified: done})
}

// GetSession godoc
// @ID          getSession
// @Summary     Current browser session
// @Description Issues or refreshes the session cookie and reports whether the session is verified.
// @Tags        Sessions
// @Produce     json
//
// @Success     200  {object}  handlers.SessionResponse
// @Header      200  {string}  Set-Cookie  "sid=<session id>; HttpOnly; SameSite=Lax"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /session [get]
func (h *Handlers) GetSession(c *gin.Context) {
	sid := middleware.SessionID(c)
	v, err := h.pool.Status(c.Request.Context(), sid)
	if err != nil {
		failErr(c, err)
		return
	}
	resp := SessionResponse{SessionID: sid}
	if v != nil && v.Finalized() {
		resp.Verified = true
		resp.CallerNumber = v.CallerNumber
	}
	ok(c, http.StatusOK, resp)
}

// MobileLink godoc
// @ID          mobileLink
// @Summary     Dial from a phone
// @Description Leases a number for the session and redirects to tel:<number>, or to /verified when the session is already verified.
// @Tags        Sessions
//
// @Param       sessionId  path  string  true  "Session ID"  example(0b7e4c1a9d2f4e8a)
//
// @Success     302  {string}  string  "Redirect"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session"
// @Failure     409  {object}  handlers.ErrorResponse  "Lost a race (see Retry-After)"
// @Failure     502  {object}  handlers.ErrorResponse  "Telephony provider failure"
// @Router      /ses/{sessionId} [get]
func (h *Handlers) MobileLink(c *gin.Context) {
	a, err := h.pool.RequestAssignment(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		failErr(c, err)
		return
	}
	if a.Verified {
		c.Redirect(http.StatusFound, "/verified")
		return
	}
	c.Redirect(http.StatusFound, "tel:"+a.PhoneNumber)
}

// Verified godoc
// @ID          verified
// @Summary     Verification confirmation
// @Tags        Sessions
// @Produce     plain
// @Success     200  {string}  string  "Session is verified. You can close this window."
// @Router      /verified [get]
func (h *Handlers) Verified(c *gin.Context) {
	c.String(http.StatusOK, VerifiedMessage)
}
