// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all
// endpoints. Every response carries a `success` flag (the shape polling
// clients key on), errors add a stable machine-readable `code`, a
// human-readable `error` message, and the request correlation id. Internal
// paths and stack traces never leak into a response body.
//
// Example error response:
//
//	HTTP/1.1 403 Forbidden
//	{
//	  "success": false,
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "download_limit",
//	  "error": "download limit reached"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Success is always false on this envelope.
	Success bool `json:"success"`
	// RequestID correlates server logs and client errors.
	RequestID string `json:"request_id,omitempty"`
	// Code is a stable, machine-readable code (see errors.go constants).
	Code string `json:"code"`
	// Error is a human-readable message, safe to show to users.
	Error string `json:"error"`
}

// fail aborts the request with a structured error and logs server-side
// errors (>= 500) with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		Success:   false,
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Error:     msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
