// Package services – TokenIssuer
//
// This file implements the TokenIssuer, which mints download tokens after a
// verified purchase. Tokens carry 256 bits of entropy, a TTL, and a download
// budget; they are persisted through the TokenStore before being handed out.
//
// Issuance is idempotent per order item: the store enforces a unique
// (order_id, book_id) pair, and re-issuing for the same pair returns the
// already-persisted token instead of minting a second one. That keeps webhook
// retries safe even when an earlier delivery failed after partial work.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// TokenRepo defines the repository contract required by TokenIssuer.
type TokenRepo interface {
	// CreateToken persists a new token row; repo.ErrDuplicate signals an
	// existing (order_id, book_id) issuance.
	CreateToken(ctx context.Context, db *gorm.DB, rec *domain.DownloadToken) error

	// FindTokenByOrderAndBook returns the token already issued for an order
	// item, or repo.ErrNotFound.
	FindTokenByOrderAndBook(ctx context.Context, db *gorm.DB, orderID, bookID string) (*domain.DownloadToken, error)
}

// IssueOptions override the issuer defaults for a single call. Zero values
// fall back to the configured TTL and download budget.
type IssueOptions struct {
	TTL          time.Duration
	MaxDownloads int
}

// IssuedToken is the issuance result: the persisted record plus the delivery
// URL clients use to fetch the file.
type IssuedToken struct {
	*domain.DownloadToken
	Title       string `json:"title,omitempty"`
	DownloadURL string `json:"download_url"`
}

// BatchItem identifies one purchased asset within a batch issuance.
type BatchItem struct {
	BookID string `json:"bookId"`
	Title  string `json:"title"`
}

// TokenIssuer mints and persists download tokens.
type TokenIssuer struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the token repository used by this service.
	Repo TokenRepo

	// TTL is the validity window applied when options carry none.
	TTL time.Duration
	// MaxDownloads is the default download budget (> 0).
	MaxDownloads int
	// PathPrefix is the route prefix for delivery URLs.
	PathPrefix string

	// Now supplies the clock; nil means time.Now in UTC. Tests inject a
	// simulated clock here.
	Now func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with the spec defaults: 24h TTL,
// 5 downloads, URLs under /download/file.
func NewTokenIssuer(db *gorm.DB, r TokenRepo) *TokenIssuer {
	return &TokenIssuer{
		DB:           db,
		Repo:         r,
		TTL:          24 * time.Hour,
		MaxDownloads: 5,
		PathPrefix:   "/download/file",
	}
}

func (s *TokenIssuer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// generateToken returns a 64-character hex string built from 32 bytes of
// cryptographically secure randomness.
func generateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Issue mints one token for an order item and persists it.
//
// Validation: orderID, bookID, and customerEmail must be non-blank, otherwise
// ErrValidation. When a token already exists for (orderID, bookID) the
// existing record is returned unchanged — issuance never produces two live
// tokens for the same item.
func (s *TokenIssuer) Issue(ctx context.Context, orderID, bookID, customerEmail string, opts *IssueOptions) (*IssuedToken, error) {
	orderID = strings.TrimSpace(orderID)
	bookID = strings.TrimSpace(bookID)
	customerEmail = strings.TrimSpace(customerEmail)
	if orderID == "" || bookID == "" || customerEmail == "" {
		return nil, ErrValidation
	}

	ttl := s.TTL
	maxDownloads := s.MaxDownloads
	if opts != nil {
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		if opts.MaxDownloads > 0 {
			maxDownloads = opts.MaxDownloads
		}
	}

	value, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &domain.DownloadToken{
		Token:         value,
		OrderID:       orderID,
		BookID:        bookID,
		CustomerEmail: customerEmail,
		Downloads:     0,
		MaxDownloads:  maxDownloads,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}

	switch err := s.Repo.CreateToken(ctx, s.DB, rec); {
	case err == nil:
		// fresh issuance
	case isDuplicate(err):
		existing, ferr := s.Repo.FindTokenByOrderAndBook(ctx, s.DB, orderID, bookID)
		if ferr != nil {
			return nil, ferr
		}
		rec = existing
	default:
		return nil, err
	}

	return &IssuedToken{
		DownloadToken: rec,
		DownloadURL:   s.downloadURL(rec.BookID, rec.Token),
	}, nil
}

// IssueBatch issues exactly one token per item of an order. Items are
// processed in input order; the first failure aborts the batch and the error
// is returned (already-issued items stay valid and are returned as-is on
// retry thanks to per-item idempotency).
func (s *TokenIssuer) IssueBatch(ctx context.Context, orderID, customerEmail string, items []BatchItem) ([]IssuedToken, error) {
	if len(items) == 0 {
		return nil, ErrValidation
	}
	out := make([]IssuedToken, 0, len(items))
	for _, it := range items {
		issued, err := s.Issue(ctx, orderID, it.BookID, customerEmail, nil)
		if err != nil {
			return nil, err
		}
		issued.Title = it.Title
		out = append(out, *issued)
	}
	return out, nil
}

// downloadURL renders the delivery URL for a (book, token) pair.
func (s *TokenIssuer) downloadURL(bookID, token string) string {
	prefix := strings.TrimRight(s.PathPrefix, "/")
	if prefix == "" {
		prefix = "/download/file"
	}
	return fmt.Sprintf("%s/%s?token=%s", prefix, bookID, token)
}
