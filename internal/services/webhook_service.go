// Package services – WebhookProcessor
//
// This file implements reconciliation of Payment Authority events. The flow
// is claim → persist order → issue one token per item → notify → commit.
// The ledger claim is a unique-constraint insert, so with at-least-once
// webhook delivery only a single delivery ever performs side effects; every
// other delivery of the same event id is a no-op. Issuance itself is
// additionally idempotent per (orderId, bookId), which covers the case of a
// first delivery that claimed the event but crashed after partial work and
// was replayed by an operator.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// completedTypes are the event types that represent a finished purchase and
// trigger token issuance. Anything else is recorded and committed untouched.
var completedTypes = map[string]struct{}{
	"checkout.session.completed": {},
	"order.completed":            {},
}

// WebhookLedger is the dedup ledger contract.
type WebhookLedger interface {
	// ClaimEvent registers the event id; repo.ErrDuplicate loses the race.
	ClaimEvent(ctx context.Context, db *gorm.DB, eventID, eventType string, now time.Time) error

	// CommitEvent marks a claimed event as fully processed.
	CommitEvent(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error
}

// OrderRepo persists orders reported by payment events.
type OrderRepo interface {
	CreateOrder(ctx context.Context, db *gorm.DB, orderID, customerEmail, eventID string, items []domain.OrderItem, now time.Time) (*domain.Order, error)
}

// Issuer is the slice of TokenIssuer the processor depends on.
type Issuer interface {
	IssueBatch(ctx context.Context, orderID, customerEmail string, items []BatchItem) ([]IssuedToken, error)
}

// Notifier delivers the download links to the customer after issuance. It is
// invoked at most once per claimed event.
type Notifier interface {
	Notify(ctx context.Context, orderID, customerEmail string, tokens []IssuedToken) error
}

// LogNotifier is the default Notifier: it records the issuance in the
// application log. A mail-backed implementation plugs in behind the same
// interface in deployments that send delivery emails.
type LogNotifier struct{}

// Notify logs the issuance. Customer emails stay out of the log line.
func (LogNotifier) Notify(_ context.Context, orderID, _ string, tokens []IssuedToken) error {
	log.Info().Str("order_id", orderID).Int("tokens", len(tokens)).Msg("download tokens issued")
	return nil
}

// PaymentOrder is the order payload carried by a completed-purchase event.
type PaymentOrder struct {
	OrderID       string      `json:"orderId"`
	CustomerEmail string      `json:"customerEmail"`
	Items         []BatchItem `json:"items"`
}

// PaymentEvent is one upstream webhook delivery.
type PaymentEvent struct {
	EventID   string       `json:"eventId"`
	EventType string       `json:"eventType"`
	Order     PaymentOrder `json:"order"`
}

// WebhookProcessor reconciles payment events exactly once.
type WebhookProcessor struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Ledger deduplicates event ids.
	Ledger WebhookLedger
	// Orders persists the purchase for audit.
	Orders OrderRepo
	// Tokens issues the download tokens.
	Tokens Issuer
	// Notifier announces issued tokens; defaults to LogNotifier when nil.
	Notifier Notifier

	// Now supplies the clock; nil means time.Now in UTC.
	Now func() time.Time
}

func (s *WebhookProcessor) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *WebhookProcessor) notifier() Notifier {
	if s.Notifier != nil {
		return s.Notifier
	}
	return LogNotifier{}
}

// validate rejects events that could never be processed. Validation runs
// before the claim so a malformed delivery can be corrected and retried.
func (s *WebhookProcessor) validate(evt *PaymentEvent) error {
	if strings.TrimSpace(evt.EventID) == "" || strings.TrimSpace(evt.EventType) == "" {
		return ErrValidation
	}
	if _, completed := completedTypes[evt.EventType]; !completed {
		return nil
	}
	if strings.TrimSpace(evt.Order.OrderID) == "" ||
		strings.TrimSpace(evt.Order.CustomerEmail) == "" ||
		len(evt.Order.Items) == 0 {
		return ErrValidation
	}
	for _, it := range evt.Order.Items {
		if strings.TrimSpace(it.BookID) == "" {
			return ErrValidation
		}
	}
	return nil
}

// Process handles one webhook delivery.
//
// Outcomes:
//   - (tokens, nil): this call won the claim and performed issuance.
//   - (nil, ErrDuplicateEvent): the event id was seen before; nothing was
//     done. Handlers respond 2xx so the authority stops retrying.
//   - (nil, ErrValidation): malformed payload, nothing claimed.
//   - (nil, err): processing failed after the claim; the handler responds
//     non-2xx and the retry path relies on per-item issuance idempotency.
func (s *WebhookProcessor) Process(ctx context.Context, evt *PaymentEvent) ([]IssuedToken, error) {
	if err := s.validate(evt); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.Ledger.ClaimEvent(ctx, s.DB, evt.EventID, evt.EventType, now); err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateEvent
		}
		return nil, err
	}

	// Event types that do not complete a purchase are recorded only.
	if _, completed := completedTypes[evt.EventType]; !completed {
		if err := s.Ledger.CommitEvent(ctx, s.DB, evt.EventID, s.now()); err != nil {
			return nil, err
		}
		return nil, nil
	}

	items := make([]domain.OrderItem, 0, len(evt.Order.Items))
	for _, it := range evt.Order.Items {
		items = append(items, domain.OrderItem{BookID: it.BookID, Title: it.Title})
	}
	if _, err := s.Orders.CreateOrder(ctx, s.DB, evt.Order.OrderID, evt.Order.CustomerEmail, evt.EventID, items, now); err != nil {
		return nil, err
	}

	tokens, err := s.Tokens.IssueBatch(ctx, evt.Order.OrderID, evt.Order.CustomerEmail, evt.Order.Items)
	if err != nil {
		return nil, err
	}

	// Notification failures are logged, not propagated: failing here would
	// force a retry that can never re-run (the claim is spent).
	if err := s.notifier().Notify(ctx, evt.Order.OrderID, evt.Order.CustomerEmail, tokens); err != nil {
		log.Error().Err(err).Str("event_id", evt.EventID).Msg("issuance notification failed")
	}

	if err := s.Ledger.CommitEvent(ctx, s.DB, evt.EventID, s.now()); err != nil {
		return nil, err
	}
	return tokens, nil
}
