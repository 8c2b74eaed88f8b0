package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-delivery-backend/internal/assets"
	"github.com/tbourn/go-delivery-backend/internal/domain"
	"github.com/tbourn/go-delivery-backend/internal/repo"
)

func newServicesDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// tokenStore adapts the repo free functions to the service interfaces.
type tokenStore struct{}

func (tokenStore) CreateToken(ctx context.Context, db *gorm.DB, rec *domain.DownloadToken) error {
	return repo.CreateToken(ctx, db, rec)
}

func (tokenStore) FindTokenByOrderAndBook(ctx context.Context, db *gorm.DB, orderID, bookID string) (*domain.DownloadToken, error) {
	return repo.FindTokenByOrderAndBook(ctx, db, orderID, bookID)
}

func (tokenStore) GetToken(ctx context.Context, db *gorm.DB, token string) (*domain.DownloadToken, error) {
	return repo.GetToken(ctx, db, token)
}

func (tokenStore) ConsumeToken(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.DownloadToken, error) {
	return repo.ConsumeToken(ctx, db, token, now)
}

func (tokenStore) AppendTokenIP(ctx context.Context, db *gorm.DB, token, ip string) error {
	return repo.AppendTokenIP(ctx, db, token, ip)
}

// ledgerStore adapts the webhook ledger functions.
type ledgerStore struct{}

func (ledgerStore) ClaimEvent(ctx context.Context, db *gorm.DB, eventID, eventType string, now time.Time) error {
	return repo.ClaimEvent(ctx, db, eventID, eventType, now)
}

func (ledgerStore) CommitEvent(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error {
	return repo.CommitEvent(ctx, db, eventID, now)
}

// orderStore adapts the order repository functions.
type orderStore struct{}

func (orderStore) CreateOrder(ctx context.Context, db *gorm.DB, orderID, customerEmail, eventID string, items []domain.OrderItem, now time.Time) (*domain.Order, error) {
	return repo.CreateOrder(ctx, db, orderID, customerEmail, eventID, items, now)
}

// newAssetDir builds an asset root holding the given book ids as default-brand
// PDF files and returns the ready Store.
func newAssetDir(t *testing.T, bookIDs ...string) *assets.Store {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "default")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, id := range bookIDs {
		if err := os.WriteFile(filepath.Join(dir, id+".pdf"), []byte("content-of-"+id), 0o644); err != nil {
			t.Fatalf("write asset %s: %v", id, err)
		}
	}
	return assets.New(root)
}

// fixedClock returns a Now func pinned to the given instant.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
