// Package services defines the business logic for token issuance, secure
// delivery, and webhook reconciliation. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages and HTTP status codes is performed
// at the handler layer.
package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/repo"
)

var (
	// ErrValidation is returned when a required field (orderId, bookId,
	// customerEmail, eventId) is empty or malformed.
	ErrValidation = errors.New("missing or invalid required field")

	// ErrTokenNotFound indicates that no token record exists for the
	// presented value.
	ErrTokenNotFound = errors.New("invalid download token")

	// ErrTokenExpired indicates the token exists but its expiry window has
	// passed.
	ErrTokenExpired = errors.New("download token has expired")

	// ErrDownloadLimit indicates the token has no download credits left.
	ErrDownloadLimit = errors.New("download limit reached")

	// ErrBookMismatch indicates the token is valid but was issued for a
	// different book than the one requested.
	ErrBookMismatch = errors.New("token not valid for this book")

	// ErrAssetMissing indicates the purchased file is absent from the asset
	// store. No download credit is consumed in this case.
	ErrAssetMissing = errors.New("book file not found")

	// ErrDuplicateEvent indicates a webhook event id was already claimed;
	// processing it again must produce no side effects.
	ErrDuplicateEvent = errors.New("event already processed")
)

// isNotFound treats repo-level not-found sentinels as "not found" in a
// driver-agnostic way. It also checks gorm.ErrRecordNotFound for safety.
func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound)
}

// isDuplicate reports whether err is the repository's unique-constraint
// sentinel.
func isDuplicate(err error) bool {
	return errors.Is(err, repo.ErrDuplicate)
}
