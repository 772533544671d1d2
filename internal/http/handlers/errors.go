// Error codes carried in ErrorResponse.Code. Generic codes mirror the HTTP
// status; domain codes carry outcomes the status alone cannot convey.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "unavailable"

	// Domain-specific:
	ErrCodeAlreadyVerified = "already_verified"
	ErrCodeProviderFailed  = "provider_failed"
)
