// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DownloadToken model — the single source of truth for download counters
// and expiry.
//
// The repository follows a "thin" approach: persistence and query
// composition only, business rules live in the services package.
//
// Concurrency contract:
//   - ConsumeToken performs the eligibility check and the counter increment
//     as one conditional UPDATE against the store. Two concurrent calls on a
//     token with one remaining credit yield exactly one success; there is no
//     application-level read-modify-write on the counter.
//   - Every function that evaluates expiry takes an explicit `now` so the
//     outcome is a pure function of stored data and the caller's clock.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint conflict: an identical token
// value, an existing (order_id, book_id) issuance, or a replayed event id.
var ErrDuplicate = errors.New("duplicate")

// Consume classification errors. ConsumeToken returns exactly one of these
// when the conditional update matches no row.
var (
	// ErrExpired means the token exists but its expiry has passed.
	ErrExpired = errors.New("token expired")

	// ErrLimitReached means the token exists, is unexpired, and has no
	// download credits left.
	ErrLimitReached = errors.New("download limit reached")
)

// isUniqueViolation detects unique-constraint failures across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

// CreateToken inserts a fully-populated token row. It returns ErrDuplicate
// when either the token value or the (order_id, book_id) pair already exists;
// callers use the latter to make issuance idempotent per order item.
func CreateToken(ctx context.Context, db *gorm.DB, rec *domain.DownloadToken) error {
	if rec.IPAddresses == "" {
		rec.IPAddresses = "[]"
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetToken fetches a token row by its value, or ErrNotFound.
func GetToken(ctx context.Context, db *gorm.DB, token string) (*domain.DownloadToken, error) {
	var rec domain.DownloadToken
	err := db.WithContext(ctx).Where("token = ?", token).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindTokenByOrderAndBook returns the token already issued for an order item,
// or ErrNotFound. Used to resolve issuance races on the unique index.
func FindTokenByOrderAndBook(ctx context.Context, db *gorm.DB, orderID, bookID string) (*domain.DownloadToken, error) {
	var rec domain.DownloadToken
	err := db.WithContext(ctx).
		Where("order_id = ? AND book_id = ?", orderID, bookID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ConsumeToken atomically spends one download credit.
//
// The check (exists ∧ not expired ∧ downloads < max_downloads) and the
// increment happen in a single conditional UPDATE; the affected-row count
// decides the outcome. When no row matched, a follow-up read classifies the
// failure as ErrNotFound, ErrExpired, or ErrLimitReached.
//
// On success the refreshed row is returned, with Downloads already
// incremented and LastDownloadAt set to now.
func ConsumeToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.DownloadToken, error) {
	res := db.WithContext(ctx).
		Model(&domain.DownloadToken{}).
		Where("token = ? AND expires_at > ? AND downloads < max_downloads", token, now).
		Updates(map[string]any{
			"downloads":        gorm.Expr("downloads + 1"),
			"last_download_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return GetToken(ctx, db, token)
	}

	// No row matched: classify against the current state.
	rec, err := GetToken(ctx, db, token)
	if err != nil {
		return nil, err // ErrNotFound or a DB failure
	}
	if rec.Expired(now) {
		return nil, ErrExpired
	}
	return nil, ErrLimitReached
}

// AppendTokenIP records a client address in the token's audit set. The add is
// idempotent and never counts against the download limit; failures here must
// not fail the download itself.
func AppendTokenIP(ctx context.Context, db *gorm.DB, token, ip string) error {
	if strings.TrimSpace(ip) == "" {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.DownloadToken
		if err := tx.Where("token = ?", token).First(&rec).Error; err != nil {
			return err
		}
		var ips []string
		if err := json.Unmarshal([]byte(rec.IPAddresses), &ips); err != nil {
			ips = nil
		}
		for _, known := range ips {
			if known == ip {
				return nil
			}
		}
		raw, err := json.Marshal(append(ips, ip))
		if err != nil {
			return err
		}
		return tx.Model(&domain.DownloadToken{}).
			Where("token = ?", token).
			Update("ip_addresses", string(raw)).Error
	})
}

// SweepExpired deletes tokens whose expiry has passed and returns how many
// rows were reclaimed. Housekeeping only: delivery rechecks expiry live on
// every consume, so a failed or delayed sweep never affects correctness.
func SweepExpired(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.DownloadToken{})
	return res.RowsAffected, res.Error
}
