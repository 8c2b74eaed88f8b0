// Download HTTP handlers.
//
// This file exposes the secure-delivery endpoints:
//   - POST /download/create-token   (issue a token for one purchased book)
//   - POST /download/batch-tokens   (issue one token per order item)
//   - GET  /download/verify/:token  (token status; failures in-body, always 200)
//   - GET  /download/file/:bookId   (stream the asset, consuming one credit)
//   - GET  /download/analytics      (admin aggregate stats)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate sentinel errors into the HTTP taxonomy
// (400 validation, 401 missing token, 403 invalid/expired/mismatch/limit,
// 404 missing asset, 500 otherwise).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
	"github.com/tbourn/go-delivery-backend/internal/http/middleware"
	"github.com/tbourn/go-delivery-backend/internal/repo"
	"github.com/tbourn/go-delivery-backend/internal/services"
	"github.com/tbourn/go-delivery-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// IssuerService defines token issuance operations consumed by HTTP handlers.
//
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type IssuerService interface {
	// Issue mints (or idempotently returns) the token for one order item.
	Issue(ctx context.Context, orderID, bookID, customerEmail string, opts *services.IssueOptions) (*services.IssuedToken, error)
	// IssueBatch issues exactly one token per item of an order.
	IssueBatch(ctx context.Context, orderID, customerEmail string, items []services.BatchItem) ([]services.IssuedToken, error)
}

// DeliveryService defines verification and serving operations.
type DeliveryService interface {
	// Serve authorizes a download, consumes one credit, and opens the file.
	Serve(ctx context.Context, bookID, token, clientIP string) (*services.Download, error)
	// Verify reports token state without consuming a credit.
	Verify(ctx context.Context, token string) (*domain.DownloadToken, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the delivery API.
type Handlers struct {
	issuer   IssuerService
	delivery DeliveryService
	db       *gorm.DB
}

// New constructs a Handlers instance bound to the given services. The db
// handle backs the analytics aggregates.
func New(issuer IssuerService, delivery DeliveryService, db *gorm.DB) *Handlers {
	return &Handlers{issuer: issuer, delivery: delivery, db: db}
}

//
// DTOs
//

// CreateTokenRequest is the JSON payload for issuing a single token.
type CreateTokenRequest struct {
	BookID        string `json:"bookId"`
	OrderID       string `json:"orderId"`
	CustomerEmail string `json:"customerEmail"`
}

// CreateTokenResponse echoes the issued credential and its delivery URL.
type CreateTokenResponse struct {
	Success     bool      `json:"success"`
	Token       string    `json:"token"`
	Expires     time.Time `json:"expires"`
	DownloadURL string    `json:"downloadUrl"`
}

// BatchTokensRequest is the JSON payload for issuing an order's tokens.
type BatchTokensRequest struct {
	OrderID       string               `json:"orderId"`
	CustomerEmail string               `json:"customerEmail"`
	Books         []services.BatchItem `json:"books"`
}

// BatchTokenEntry is one issued credential within a batch response.
type BatchTokenEntry struct {
	BookID      string `json:"bookId"`
	Title       string `json:"title,omitempty"`
	Token       string `json:"token"`
	DownloadURL string `json:"downloadUrl"`
}

// BatchTokensResponse wraps the issued credentials of one order.
type BatchTokensResponse struct {
	Success bool              `json:"success"`
	OrderID string            `json:"orderId"`
	Tokens  []BatchTokenEntry `json:"tokens"`
	Expires time.Time         `json:"expires"`
}

// VerifyResponse reports token state. Failures are carried in-body with
// HTTP 200 so polling clients only branch on the success flag.
type VerifyResponse struct {
	Success            bool       `json:"success"`
	BookID             string     `json:"bookId,omitempty"`
	OrderID            string     `json:"orderId,omitempty"`
	Downloads          *int       `json:"downloads,omitempty"`
	MaxDownloads       *int       `json:"maxDownloads,omitempty"`
	RemainingDownloads *int       `json:"remainingDownloads,omitempty"`
	Expires            *time.Time `json:"expires,omitempty"`
	Error              string     `json:"error,omitempty"`
}

//
// Endpoints
//

// CreateToken issues a download token for one purchased book.
//
// POST /download/create-token
func (h *Handlers) CreateToken(c *gin.Context) {
	var req CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	issued, err := h.issuer.Issue(c.Request.Context(), req.OrderID, req.BookID, req.CustomerEmail, nil)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing required fields")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create token")
		return
	}

	middleware.ObserveTokensIssued(1)
	ok(c, http.StatusOK, CreateTokenResponse{
		Success:     true,
		Token:       issued.Token,
		Expires:     issued.ExpiresAt,
		DownloadURL: issued.DownloadURL,
	})
}

// BatchTokens issues one token per item of an order.
//
// POST /download/batch-tokens
func (h *Handlers) BatchTokens(c *gin.Context) {
	var req BatchTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.OrderID == "" || req.CustomerEmail == "" || len(req.Books) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing required fields")
		return
	}

	issued, err := h.issuer.IssueBatch(c.Request.Context(), req.OrderID, req.CustomerEmail, req.Books)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing required fields")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to create tokens")
		return
	}

	middleware.ObserveTokensIssued(len(issued))
	resp := BatchTokensResponse{Success: true, OrderID: req.OrderID, Tokens: make([]BatchTokenEntry, 0, len(issued))}
	for _, t := range issued {
		resp.Tokens = append(resp.Tokens, BatchTokenEntry{
			BookID:      t.BookID,
			Title:       t.Title,
			Token:       t.Token,
			DownloadURL: t.DownloadURL,
		})
		if t.ExpiresAt.After(resp.Expires) {
			resp.Expires = t.ExpiresAt
		}
	}
	ok(c, http.StatusOK, resp)
}

// Verify reports the state of a token without consuming a credit. The
// response is always 200; failures are signaled in-body.
//
// GET /download/verify/:token
func (h *Handlers) Verify(c *gin.Context) {
	rec, err := h.delivery.Verify(c.Request.Context(), c.Param("token"))
	if err != nil && rec == nil {
		msg := "invalid download token"
		if !errors.Is(err, services.ErrTokenNotFound) {
			msg = "verification failed"
		}
		ok(c, http.StatusOK, VerifyResponse{Success: false, Error: msg})
		return
	}

	resp := VerifyResponse{
		BookID:       rec.BookID,
		OrderID:      rec.OrderID,
		Downloads:    &rec.Downloads,
		MaxDownloads: &rec.MaxDownloads,
		Expires:      &rec.ExpiresAt,
	}
	remaining := rec.Remaining()
	resp.RemainingDownloads = &remaining

	switch {
	case errors.Is(err, services.ErrTokenExpired):
		resp.Error = "download token has expired"
	case errors.Is(err, services.ErrDownloadLimit):
		resp.Error = "download limit reached"
	default:
		resp.Success = true
	}
	ok(c, http.StatusOK, resp)
}

// ServeFile streams a purchased book, consuming one download credit.
//
// GET /download/file/:bookId?token=...
func (h *Handlers) ServeFile(c *gin.Context) {
	bookID := c.Param("bookId")
	token := c.Query("token")
	if token == "" {
		middleware.ObserveDownloadRefused("unauthorized")
		fail(c, http.StatusUnauthorized, ErrCodeTokenRequired, "download token required")
		return
	}

	dl, err := h.delivery.Serve(c.Request.Context(), bookID, token, c.ClientIP())
	if err != nil {
		status, code, reason, msg := classifyServeError(err)
		middleware.ObserveDownloadRefused(reason)
		fail(c, status, code, msg)
		return
	}
	defer dl.File.Close()

	contentType := mime.TypeByExtension(filepath.Ext(dl.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	middleware.ObserveDownload(dl.Size)
	// DataFromReader streams straight from the file handle: backpressure
	// comes from the transport, and a client disconnect surfaces as a write
	// error that aborts the copy. The consumed credit is not refunded.
	c.DataFromReader(http.StatusOK, dl.Size, contentType, dl.File, map[string]string{
		"Content-Disposition":   fmt.Sprintf("attachment; filename=%q", dl.Filename),
		"X-Download-Count":      fmt.Sprintf("%d", dl.Token.Downloads),
		"X-Downloads-Remaining": fmt.Sprintf("%d", dl.Token.Remaining()),
	})
}

// classifyServeError maps delivery sentinels onto (status, code, metric
// reason, message).
func classifyServeError(err error) (int, string, string, string) {
	switch {
	case errors.Is(err, services.ErrTokenNotFound):
		return http.StatusForbidden, ErrCodeInvalidToken, "invalid", "invalid download token"
	case errors.Is(err, services.ErrTokenExpired):
		return http.StatusForbidden, ErrCodeTokenExpired, "expired", "download token has expired"
	case errors.Is(err, services.ErrDownloadLimit):
		return http.StatusForbidden, ErrCodeDownloadLimit, "limit", "download limit reached"
	case errors.Is(err, services.ErrBookMismatch):
		return http.StatusForbidden, ErrCodeBookMismatch, "mismatch", "token not valid for this book"
	case errors.Is(err, services.ErrAssetMissing):
		return http.StatusNotFound, ErrCodeNotFound, "missing", "book file not found"
	default:
		return http.StatusInternalServerError, ErrCodeInternal, "internal", "failed to serve download"
	}
}

// Analytics returns aggregate token/download stats for the operator.
//
// GET /download/analytics?days=30  (admin bearer token required)
func (h *Handlers) Analytics(c *gin.Context) {
	days := utils.AtoiDefault(c.Query("days"), 30)
	if days < 1 {
		days = 1
	}
	now := time.Now().UTC()
	stats, err := repo.GetDownloadStats(c.Request.Context(), h.db, now.AddDate(0, 0, -days), now)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to load analytics")
		return
	}
	ok(c, http.StatusOK, gin.H{"success": true, "days": days, "analytics": stats})
}
