// Package domain defines the persistence models for download tokens, payment
// webhook events, and orders. These types are mapped with GORM and form the
// core data layer of the delivery backend.
package domain

import "time"

// DownloadToken grants time-boxed, count-limited access to one purchased book.
// The token value itself is the primary key: an opaque 64-character hex string
// carrying 256 bits of entropy, generated once and never reused.
//
// Invariants enforced by the store:
//   - Downloads never exceeds MaxDownloads (atomic conditional consume).
//   - ExpiresAt is strictly after CreatedAt.
//   - At most one token exists per (order_id, book_id) pair; issuing again
//     for the same pair returns the existing token.
//
// Expired or exhausted tokens are retired, not deleted immediately: rows are
// kept for audit until the expiry sweep reclaims them.
type DownloadToken struct {
	Token          string     `json:"token"           gorm:"type:char(64);primaryKey"`
	OrderID        string     `json:"order_id"        gorm:"type:varchar(64);not null;index;uniqueIndex:ux_token_order_book,priority:1"`
	BookID         string     `json:"book_id"         gorm:"type:varchar(128);not null;index;uniqueIndex:ux_token_order_book,priority:2"`
	CustomerEmail  string     `json:"customer_email"  gorm:"type:varchar(255);not null"`
	Downloads      int        `json:"downloads"       gorm:"not null;default:0;check:downloads >= 0"`
	MaxDownloads   int        `json:"max_downloads"   gorm:"not null;check:max_downloads > 0"`
	ExpiresAt      time.Time  `json:"expires_at"      gorm:"not null;index"`
	CreatedAt      time.Time  `json:"created_at"`
	LastDownloadAt *time.Time `json:"last_download_at,omitempty"`

	// IPAddresses is a JSON-encoded set of client addresses that redeemed the
	// token. Audit only: it never gates a download.
	IPAddresses string `json:"-" gorm:"type:text;not null;default:'[]'"`
}

// TableName returns the database table name for DownloadToken.
func (DownloadToken) TableName() string { return "download_tokens" }

// Remaining reports how many download credits are left on the token.
func (t *DownloadToken) Remaining() int {
	if r := t.MaxDownloads - t.Downloads; r > 0 {
		return r
	}
	return 0
}

// Expired reports whether the token is past its expiry at the given instant.
// Expiry is a pure function of stored data and the supplied clock, so a store
// rebuilt on another machine enforces it identically.
func (t *DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// WebhookEvent records one upstream payment event. EventID is supplied by the
// Payment Authority and its uniqueness is the sole idempotency mechanism: the
// insert that creates this row acts as the claim, and a second delivery of the
// same EventID must produce zero additional side effects.
type WebhookEvent struct {
	EventID     string     `json:"event_id"   gorm:"type:varchar(255);primaryKey"`
	EventType   string     `json:"event_type" gorm:"type:varchar(64);not null"`
	Processed   bool       `json:"processed"  gorm:"not null;default:false"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Order is a completed purchase reported by the Payment Authority. It owns
// one or more items; download tokens are issued 1:1 with items, never shared
// or batched across them.
type Order struct {
	ID            string    `json:"id"             gorm:"type:varchar(64);primaryKey"`
	CustomerEmail string    `json:"customer_email" gorm:"type:varchar(255);not null;index"`
	EventID       string    `json:"event_id"       gorm:"type:varchar(255);not null"`
	CreatedAt     time.Time `json:"created_at"`

	Items []OrderItem `json:"items,omitempty" gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// OrderItem identifies one purchasable asset within an order.
type OrderItem struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	OrderID   string    `json:"order_id" gorm:"type:varchar(64);not null;index"`
	BookID    string    `json:"book_id"  gorm:"type:varchar(128);not null"`
	Title     string    `json:"title"    gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for OrderItem.
func (OrderItem) TableName() string { return "order_items" }
