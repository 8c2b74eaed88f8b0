package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

func newTokenRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("token_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedToken(t *testing.T, db *gorm.DB, token, orderID, bookID string, downloads, max int, expiresAt time.Time) *domain.DownloadToken {
	t.Helper()
	rec := &domain.DownloadToken{
		Token:         token,
		OrderID:       orderID,
		BookID:        bookID,
		CustomerEmail: "reader@example.com",
		Downloads:     downloads,
		MaxDownloads:  max,
		CreatedAt:     time.Now().UTC().Add(-time.Hour),
		ExpiresAt:     expiresAt,
	}
	if err := CreateToken(context.Background(), db, rec); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return rec
}

func TestCreateToken_RoundTrip(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})

	exp := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, 5, exp)

	got, err := GetToken(context.Background(), db, "tok-a")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.OrderID != "order-1" || got.BookID != "book-1" || got.MaxDownloads != 5 {
		t.Fatalf("unexpected token fields: %+v", got)
	}
	if got.IPAddresses != "[]" {
		t.Fatalf("IPAddresses should default to empty set, got %q", got.IPAddresses)
	}
}

func TestCreateToken_DuplicateOrderItem(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})

	exp := time.Now().UTC().Add(time.Hour)
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, 5, exp)

	dup := &domain.DownloadToken{
		Token:         "tok-b",
		OrderID:       "order-1",
		BookID:        "book-1",
		CustomerEmail: "reader@example.com",
		MaxDownloads:  5,
		ExpiresAt:     exp,
	}
	if err := CreateToken(context.Background(), db, dup); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate for same (order, book), got %v", err)
	}
}

func TestGetToken_NotFound(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	if _, err := GetToken(context.Background(), db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindTokenByOrderAndBook(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})

	exp := time.Now().UTC().Add(time.Hour)
	want := seedToken(t, db, "tok-a", "order-1", "book-1", 0, 5, exp)

	got, err := FindTokenByOrderAndBook(context.Background(), db, "order-1", "book-1")
	if err != nil {
		t.Fatalf("FindTokenByOrderAndBook: %v", err)
	}
	if got.Token != want.Token {
		t.Fatalf("expected token %q, got %q", want.Token, got.Token)
	}

	if _, err := FindTokenByOrderAndBook(context.Background(), db, "order-1", "book-2"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown pair, got %v", err)
	}
}

func TestConsumeToken_IncrementsAndStamps(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})

	now := time.Now().UTC().Truncate(time.Second)
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, 2, now.Add(time.Hour))

	got, err := ConsumeToken(context.Background(), db, "tok-a", now)
	if err != nil {
		t.Fatalf("ConsumeToken: %v", err)
	}
	if got.Downloads != 1 {
		t.Fatalf("expected Downloads=1, got %d", got.Downloads)
	}
	if got.LastDownloadAt == nil {
		t.Fatalf("LastDownloadAt not set")
	}
}

func TestConsumeToken_Classification(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := ConsumeToken(ctx, db, "missing", now); err != ErrNotFound {
		t.Fatalf("missing token: expected ErrNotFound, got %v", err)
	}

	seedToken(t, db, "tok-expired", "order-1", "book-1", 0, 5, now.Add(-time.Minute))
	if _, err := ConsumeToken(ctx, db, "tok-expired", now); err != ErrExpired {
		t.Fatalf("expired token: expected ErrExpired, got %v", err)
	}

	seedToken(t, db, "tok-spent", "order-2", "book-1", 3, 3, now.Add(time.Hour))
	if _, err := ConsumeToken(ctx, db, "tok-spent", now); err != ErrLimitReached {
		t.Fatalf("spent token: expected ErrLimitReached, got %v", err)
	}
}

func TestConsumeToken_BoundaryExpiry(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	ctx := context.Background()

	exp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, 5, exp)

	// now == expires_at is expired; the window is half-open.
	if _, err := ConsumeToken(ctx, db, "tok-a", exp); err != ErrExpired {
		t.Fatalf("at expiry instant: expected ErrExpired, got %v", err)
	}
	if _, err := ConsumeToken(ctx, db, "tok-a", exp.Add(-time.Second)); err != nil {
		t.Fatalf("just before expiry: %v", err)
	}
}

func TestConsumeToken_ConcurrentNeverOversells(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})

	const budget = 3
	const callers = 10
	now := time.Now().UTC()
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, budget, now.Add(time.Hour))

	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ConsumeToken(context.Background(), db, "tok-a", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	okCount, limitCount := 0, 0
	for err := range results {
		switch err {
		case nil:
			okCount++
		case ErrLimitReached:
			limitCount++
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if okCount != budget {
		t.Fatalf("expected exactly %d successful consumes, got %d", budget, okCount)
	}
	if limitCount != callers-budget {
		t.Fatalf("expected %d limit refusals, got %d", callers-budget, limitCount)
	}

	got, err := GetToken(context.Background(), db, "tok-a")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if got.Downloads != budget {
		t.Fatalf("counter overshoot: Downloads=%d, budget=%d", got.Downloads, budget)
	}
}

func TestAppendTokenIP_IdempotentSet(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	ctx := context.Background()
	seedToken(t, db, "tok-a", "order-1", "book-1", 0, 5, time.Now().UTC().Add(time.Hour))

	for _, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2", ""} {
		if err := AppendTokenIP(ctx, db, "tok-a", ip); err != nil {
			t.Fatalf("AppendTokenIP(%q): %v", ip, err)
		}
	}

	got, err := GetToken(ctx, db, "tok-a")
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	var ips []string
	if err := json.Unmarshal([]byte(got.IPAddresses), &ips); err != nil {
		t.Fatalf("decode ip set %q: %v", got.IPAddresses, err)
	}
	if len(ips) != 2 || ips[0] != "10.0.0.1" || ips[1] != "10.0.0.2" {
		t.Fatalf("unexpected ip set: %v", ips)
	}
	if got.Downloads != 0 {
		t.Fatalf("ip audit must not spend credits, Downloads=%d", got.Downloads)
	}
}

func TestSweepExpired_DeletesOnlyExpired(t *testing.T) {
	db := newTokenRepoDB(t, &domain.DownloadToken{})
	ctx := context.Background()
	now := time.Now().UTC()

	seedToken(t, db, "tok-old", "order-1", "book-1", 0, 5, now.Add(-time.Hour))
	seedToken(t, db, "tok-edge", "order-2", "book-1", 0, 5, now)
	seedToken(t, db, "tok-live", "order-3", "book-1", 0, 5, now.Add(time.Hour))

	n, err := SweepExpired(ctx, db, now)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reclaimed rows, got %d", n)
	}
	if _, err := GetToken(ctx, db, "tok-live"); err != nil {
		t.Fatalf("live token swept: %v", err)
	}
	if _, err := GetToken(ctx, db, "tok-old"); err != ErrNotFound {
		t.Fatalf("expired token survived sweep: %v", err)
	}
}
