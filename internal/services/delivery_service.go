// Package services – DeliveryGateway
//
// This file implements the DeliveryGateway, which verifies a download token
// against a requested book, spends a download credit atomically, and opens
// the asset for streaming. The check order is part of the contract:
//
//  1. token lookup            → ErrTokenNotFound
//  2. book match              → ErrBookMismatch
//  3. asset existence         → ErrAssetMissing (before any credit is spent)
//  4. atomic consume          → ErrTokenExpired / ErrDownloadLimit
//  5. open file for streaming
//
// A missing file therefore never costs the purchaser a download, while an
// I/O failure after the consume is not refunded (the transport logs and
// aborts the connection).
package services

import (
	"context"
	"io/fs"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/assets"
	"github.com/tbourn/go-delivery-backend/internal/domain"
	"github.com/tbourn/go-delivery-backend/internal/repo"
)

// tracer spans the consume-and-open hot path.
var tracer = otel.Tracer("github.com/tbourn/go-delivery-backend/internal/services")

// DeliveryTokenRepo defines the token-store operations the gateway needs.
type DeliveryTokenRepo interface {
	// GetToken fetches a token row, or repo.ErrNotFound.
	GetToken(ctx context.Context, db *gorm.DB, token string) (*domain.DownloadToken, error)

	// ConsumeToken spends one credit atomically; failures are classified as
	// repo.ErrNotFound, repo.ErrExpired, or repo.ErrLimitReached.
	ConsumeToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.DownloadToken, error)

	// AppendTokenIP records the client address in the audit set.
	AppendTokenIP(ctx context.Context, db *gorm.DB, token, ip string) error
}

// AssetStore resolves and opens purchased files.
type AssetStore interface {
	Stat(bookID string) (fs.FileInfo, error)
	Open(bookID string) (*os.File, fs.FileInfo, error)
}

// Download is an authorized, credit-consumed file stream. The caller owns
// File and must close it after streaming.
type Download struct {
	File     *os.File
	Size     int64
	Filename string
	// Token is the post-consume record; Downloads already includes this
	// download.
	Token *domain.DownloadToken
}

// DeliveryGateway authorizes download requests and enforces the budget.
type DeliveryGateway struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Tokens is the token repository.
	Tokens DeliveryTokenRepo
	// Assets maps book ids to files.
	Assets AssetStore

	// Now supplies the clock; nil means time.Now in UTC.
	Now func() time.Time
}

// NewDeliveryGateway wires a gateway from its dependencies.
func NewDeliveryGateway(db *gorm.DB, tokens DeliveryTokenRepo, store AssetStore) *DeliveryGateway {
	return &DeliveryGateway{DB: db, Tokens: tokens, Assets: store}
}

func (s *DeliveryGateway) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Serve runs the ordered delivery contract for one download request and, on
// success, returns the open file plus the consumed token state.
func (s *DeliveryGateway) Serve(ctx context.Context, bookID, token, clientIP string) (*Download, error) {
	ctx, span := tracer.Start(ctx, "delivery.Serve",
		trace.WithAttributes(attribute.String("book_id", bookID)))
	defer span.End()

	// 1) Lookup.
	rec, err := s.Tokens.GetToken(ctx, s.DB, token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}

	// 2) The token must have been issued for this book.
	if rec.BookID != bookID {
		return nil, ErrBookMismatch
	}

	// 3) Existence check before consuming: an absent asset must not cost a
	// credit.
	if _, err := s.Assets.Stat(bookID); err != nil {
		switch err {
		case assets.ErrMissing, assets.ErrInvalidID:
			return nil, ErrAssetMissing
		default:
			return nil, err
		}
	}

	// 4) Spend one credit atomically; this also rechecks expiry live.
	rec, err = s.Tokens.ConsumeToken(ctx, s.DB, token, s.now())
	if err != nil {
		switch {
		case isNotFound(err):
			return nil, ErrTokenNotFound
		case err == repo.ErrExpired:
			return nil, ErrTokenExpired
		case err == repo.ErrLimitReached:
			return nil, ErrDownloadLimit
		default:
			return nil, err
		}
	}

	// Audit trail: best effort, never counted against the limit and never a
	// reason to fail a paid-for download.
	if err := s.Tokens.AppendTokenIP(ctx, s.DB, token, clientIP); err != nil {
		log.Warn().Err(err).Str("book_id", bookID).Msg("record download ip")
	}

	// 5) Open for streaming.
	f, info, err := s.Assets.Open(bookID)
	if err != nil {
		// The file vanished between Stat and Open; the consumed credit is
		// not refunded, matching the no-refund rule for failures past (4).
		if err == assets.ErrMissing {
			return nil, ErrAssetMissing
		}
		return nil, err
	}

	return &Download{
		File:     f,
		Size:     info.Size(),
		Filename: info.Name(),
		Token:    rec,
	}, nil
}

// Verify reports the current state of a token without consuming a credit.
// It returns the record alongside ErrTokenExpired or ErrDownloadLimit when
// the token is no longer redeemable, so callers can still surface metadata.
func (s *DeliveryGateway) Verify(ctx context.Context, token string) (*domain.DownloadToken, error) {
	rec, err := s.Tokens.GetToken(ctx, s.DB, token)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	if rec.Expired(s.now()) {
		return rec, ErrTokenExpired
	}
	if rec.Remaining() == 0 {
		return rec, ErrDownloadLimit
	}
	return rec, nil
}
