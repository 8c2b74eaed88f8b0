// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Download streams bypass gzip so Content-Length and range semantics
//     stay honest for large binaries
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/assets"
	"github.com/tbourn/go-delivery-backend/internal/config"
	"github.com/tbourn/go-delivery-backend/internal/domain"
	"github.com/tbourn/go-delivery-backend/internal/http/handlers"
	"github.com/tbourn/go-delivery-backend/internal/http/middleware"
	"github.com/tbourn/go-delivery-backend/internal/repo"
	"github.com/tbourn/go-delivery-backend/internal/services"
)

// tokenRepoShim adapts the repository free functions to the repo interfaces
// expected by the services. This keeps services decoupled from the concrete
// repo package while reusing existing functions.
type tokenRepoShim struct{}

// CreateToken proxies repo.CreateToken.
func (tokenRepoShim) CreateToken(ctx context.Context, db *gorm.DB, rec *domain.DownloadToken) error {
	return repo.CreateToken(ctx, db, rec)
}

// FindTokenByOrderAndBook proxies repo.FindTokenByOrderAndBook.
func (tokenRepoShim) FindTokenByOrderAndBook(ctx context.Context, db *gorm.DB, orderID, bookID string) (*domain.DownloadToken, error) {
	return repo.FindTokenByOrderAndBook(ctx, db, orderID, bookID)
}

// GetToken proxies repo.GetToken.
func (tokenRepoShim) GetToken(ctx context.Context, db *gorm.DB, token string) (*domain.DownloadToken, error) {
	return repo.GetToken(ctx, db, token)
}

// ConsumeToken proxies repo.ConsumeToken.
func (tokenRepoShim) ConsumeToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.DownloadToken, error) {
	return repo.ConsumeToken(ctx, db, token, now)
}

// AppendTokenIP proxies repo.AppendTokenIP.
func (tokenRepoShim) AppendTokenIP(ctx context.Context, db *gorm.DB, token, ip string) error {
	return repo.AppendTokenIP(ctx, db, token, ip)
}

// ledgerShim adapts the webhook repository functions to services.WebhookLedger.
type ledgerShim struct{}

// ClaimEvent proxies repo.ClaimEvent.
func (ledgerShim) ClaimEvent(ctx context.Context, db *gorm.DB, eventID, eventType string, now time.Time) error {
	return repo.ClaimEvent(ctx, db, eventID, eventType, now)
}

// CommitEvent proxies repo.CommitEvent.
func (ledgerShim) CommitEvent(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error {
	return repo.CommitEvent(ctx, db, eventID, now)
}

// orderRepoShim adapts the order repository functions to services.OrderRepo.
type orderRepoShim struct{}

// CreateOrder proxies repo.CreateOrder.
func (orderRepoShim) CreateOrder(ctx context.Context, db *gorm.DB, orderID, customerEmail, eventID string, items []domain.OrderItem, now time.Time) (*domain.Order, error) {
	return repo.CreateOrder(ctx, db, orderID, customerEmail, eventID, items, now)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the delivery API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLogger: structured logs with token/PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per client IP)
//  8. Gzip (file streams excluded)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, store *assets.Store, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (tokens, emails, ids)
	r.Use(middleware.AccessLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Authorization"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); payloads here are small JSON bodies
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 8) Gzip JSON responses; never the binary file stream
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{
		`^/download/file/.*`,
	})))

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition", "X-Download-Count", "X-Downloads-Remaining"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition", "X-Download-Count", "X-Downloads-Remaining"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS). Token
	// responses carry live credentials, so shared caches are told no-store.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/store
	issuer := services.NewTokenIssuer(db, tokenRepoShim{})
	issuer.TTL = cfg.TokenTTL
	issuer.MaxDownloads = cfg.MaxDownloads

	gateway := services.NewDeliveryGateway(db, tokenRepoShim{}, store)

	processor := &services.WebhookProcessor{
		DB:     db,
		Ledger: ledgerShim{},
		Orders: orderRepoShim{},
		Tokens: issuer,
	}

	h := handlers.New(issuer, gateway, db)
	wh := handlers.NewWebhook(processor)

	// Delivery API
	dl := r.Group("/download")
	{
		dl.POST("/create-token", h.CreateToken)
		dl.POST("/batch-tokens", h.BatchTokens)
		dl.GET("/verify/:token", h.Verify)
		dl.GET("/file/:bookId", h.ServeFile)
		dl.GET("/analytics", middleware.AdminAuth(strings.TrimSpace(cfg.AdminToken)), h.Analytics)
	}

	// Payment Authority callbacks
	r.POST("/webhooks/payment", wh.PaymentWebhook)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
