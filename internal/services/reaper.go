// Package services – ExpiryReaper
//
// This file implements the background sweep that reclaims tokens past their
// expiry. The reaper is housekeeping, not a correctness dependency: delivery
// rechecks expiry on every consume, so sweep failures are logged and the loop
// keeps running. No per-token timers exist anywhere — expiry lives entirely
// in the stored expires_at column.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// SweepFunc deletes expired rows and reports how many were reclaimed.
type SweepFunc func(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

// ExpiryReaper periodically sweeps expired download tokens.
type ExpiryReaper struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sweep is the store's sweep operation (repo.SweepExpired).
	Sweep SweepFunc
	// Interval between sweeps; values <= 0 default to 5 minutes.
	Interval time.Duration

	// Now supplies the clock; nil means time.Now in UTC.
	Now func() time.Time
}

func (r *ExpiryReaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *ExpiryReaper) interval() time.Duration {
	if r.Interval > 0 {
		return r.Interval
	}
	return 5 * time.Minute
}

// RunOnce performs a single sweep and returns the number of reclaimed rows.
func (r *ExpiryReaper) RunOnce(ctx context.Context) (int64, error) {
	return r.Sweep(ctx, r.DB, r.now())
}

// Run sweeps on the configured interval until ctx is cancelled. It is meant
// to be launched as its own goroutine from the composition root; failures
// never escape into request handling.
func (r *ExpiryReaper) Run(ctx context.Context) {
	t := time.NewTicker(r.interval())
	defer t.Stop()

	log.Info().Dur("interval", r.interval()).Msg("expiry reaper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry reaper stopped")
			return
		case <-t.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("reclaimed", n).Msg("expiry sweep")
			}
		}
	}
}
