package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

func TestGetDownloadStats_Aggregates(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-30 * 24 * time.Hour)

	seed := func(token, book string, downloads int, created, expires time.Time) {
		rec := &domain.DownloadToken{
			Token:         token,
			OrderID:       "order-" + token,
			BookID:        book,
			CustomerEmail: "reader@example.com",
			Downloads:     downloads,
			MaxDownloads:  5,
			CreatedAt:     created,
			ExpiresAt:     expires,
		}
		if err := CreateToken(ctx, db, rec); err != nil {
			t.Fatalf("seed %s: %v", token, err)
		}
	}

	seed("a", "book-1", 3, now.Add(-time.Hour), now.Add(time.Hour))     // active
	seed("b", "book-1", 2, now.Add(-2*time.Hour), now.Add(-time.Hour))  // expired
	seed("c", "book-2", 1, now.Add(-time.Hour), now.Add(time.Hour))     // active
	seed("d", "book-2", 4, since.Add(-time.Hour), now.Add(time.Hour))   // before cutoff, excluded

	stats, err := GetDownloadStats(ctx, db, since, now)
	if err != nil {
		t.Fatalf("GetDownloadStats: %v", err)
	}
	if stats.TotalTokens != 3 {
		t.Fatalf("TotalTokens = %d, want 3", stats.TotalTokens)
	}
	if stats.ActiveTokens != 2 || stats.ExpiredTokens != 1 {
		t.Fatalf("active/expired = %d/%d, want 2/1", stats.ActiveTokens, stats.ExpiredTokens)
	}
	if stats.TotalDownloads != 6 {
		t.Fatalf("TotalDownloads = %d, want 6", stats.TotalDownloads)
	}
	if len(stats.Books) != 2 {
		t.Fatalf("expected 2 book rows, got %d", len(stats.Books))
	}
	// book-1 has 5 downloads across 2 tokens and sorts first.
	if stats.Books[0].BookID != "book-1" || stats.Books[0].Tokens != 2 || stats.Books[0].Downloads != 5 {
		t.Fatalf("unexpected leading book row: %+v", stats.Books[0])
	}
}

func TestGetDownloadStats_EmptyStore(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	now := time.Now().UTC()

	stats, err := GetDownloadStats(context.Background(), db, now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("GetDownloadStats: %v", err)
	}
	if stats.TotalTokens != 0 || stats.TotalDownloads != 0 || len(stats.Books) != 0 {
		t.Fatalf("expected zeroed stats, got %+v", stats)
	}
}
