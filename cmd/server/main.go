// Command server runs the digital-book delivery backend.
//
// Startup order: env → config → logger → tracing → storage → asset store →
// background reaper → HTTP server. Shutdown is the reverse: stop accepting
// requests, let in-flight downloads drain inside the grace window, cancel
// the reaper, flush spans.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-delivery-backend/internal/assets"
	"github.com/tbourn/go-delivery-backend/internal/config"
	httpapi "github.com/tbourn/go-delivery-backend/internal/http"
	"github.com/tbourn/go-delivery-backend/internal/observability"
	"github.com/tbourn/go-delivery-backend/internal/repo"
	"github.com/tbourn/go-delivery-backend/internal/services"
	"github.com/tbourn/go-delivery-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(flushCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("db tracing not enabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	storeOpts := []assets.Option{assets.WithDefaultDir(cfg.DefaultBrandDir)}
	for _, br := range cfg.BrandRoutes {
		storeOpts = append(storeOpts, assets.WithBrandRoute(br.Prefix, br.Dir))
	}
	store := assets.New(cfg.BooksPath, storeOpts...)

	reaper := &services.ExpiryReaper{
		DB:       db,
		Sweep:    repo.SweepExpired,
		Interval: cfg.ReaperInterval,
	}
	go reaper.Run(ctx)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, store, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// The grace window must outlast the longest permitted file stream.
	graceCtx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(graceCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
