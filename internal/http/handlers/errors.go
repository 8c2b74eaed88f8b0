// Package handlers defines HTTP-layer error codes used across all API
// endpoints.
//
// Codes are lowercase, snake_case, stable, and machine-readable; they
// supplement the human-readable `error` message in the response envelope.
// Generic codes mirror HTTP status semantics, domain codes distinguish the
// ways a download can be refused (all of which surface as 403).
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeTokenRequired = "token_required"
	ErrCodeInvalidToken  = "invalid_token"
	ErrCodeTokenExpired  = "token_expired"
	ErrCodeDownloadLimit = "download_limit"
	ErrCodeBookMismatch  = "book_mismatch"
	ErrCodeWebhookFailed = "webhook_failed"
)
