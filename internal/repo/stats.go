// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries backing the
// admin analytics endpoint. Each function is context-aware and safe to call
// from services or handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// BookDownloads is one per-book row of the analytics summary.
type BookDownloads struct {
	BookID    string `json:"book_id"`
	Tokens    int64  `json:"tokens"`
	Downloads int64  `json:"downloads"`
}

// DownloadStats aggregates token and download volume since the given cutoff.
type DownloadStats struct {
	TotalTokens    int64           `json:"total_tokens"`
	ActiveTokens   int64           `json:"active_tokens"`
	ExpiredTokens  int64           `json:"expired_tokens"`
	TotalDownloads int64           `json:"total_downloads"`
	Books          []BookDownloads `json:"books"`
}

// GetDownloadStats computes the analytics summary over tokens created at or
// after `since`. Active/expired is evaluated against the supplied `now`, not
// any sweep state, so the numbers stay correct even when the reaper lags.
func GetDownloadStats(ctx context.Context, db *gorm.DB, since, now time.Time) (*DownloadStats, error) {
	stats := &DownloadStats{Books: []BookDownloads{}}
	base := func() *gorm.DB {
		return db.WithContext(ctx).
			Model(&domain.DownloadToken{}).
			Where("created_at >= ?", since)
	}

	if err := base().Count(&stats.TotalTokens).Error; err != nil {
		return nil, err
	}
	if err := base().Where("expires_at > ?", now).Count(&stats.ActiveTokens).Error; err != nil {
		return nil, err
	}
	stats.ExpiredTokens = stats.TotalTokens - stats.ActiveTokens

	type sumRow struct {
		Total int64
	}
	var sum sumRow
	if err := base().Select("COALESCE(SUM(downloads), 0) AS total").Scan(&sum).Error; err != nil {
		return nil, err
	}
	stats.TotalDownloads = sum.Total

	err := base().
		Select("book_id, COUNT(*) AS tokens, COALESCE(SUM(downloads), 0) AS downloads").
		Group("book_id").
		Order("downloads DESC, book_id ASC").
		Scan(&stats.Books).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
