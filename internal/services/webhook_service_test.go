package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/repo"
)

// countingNotifier records every Notify call for assertions.
type countingNotifier struct {
	calls  int
	tokens int
	err    error
}

func (n *countingNotifier) Notify(_ context.Context, _, _ string, tokens []IssuedToken) error {
	n.calls++
	n.tokens += len(tokens)
	return n.err
}

func newProcessor(db *gorm.DB, notifier Notifier) *WebhookProcessor {
	return &WebhookProcessor{
		DB:       db,
		Ledger:   ledgerStore{},
		Orders:   orderStore{},
		Tokens:   NewTokenIssuer(db, tokenStore{}),
		Notifier: notifier,
	}
}

func completedEvent(eventID, orderID string) *PaymentEvent {
	return &PaymentEvent{
		EventID:   eventID,
		EventType: "checkout.session.completed",
		Order: PaymentOrder{
			OrderID:       orderID,
			CustomerEmail: "reader@example.com",
			Items: []BatchItem{
				{BookID: "book-1", Title: "First"},
				{BookID: "book-2", Title: "Second"},
			},
		},
	}
}

func TestProcess_IssuesOneTokenPerItem(t *testing.T) {
	db := newServicesDB(t)
	n := &countingNotifier{}
	p := newProcessor(db, n)

	tokens, err := p.Process(context.Background(), completedEvent("evt-1", "order-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if n.calls != 1 || n.tokens != 2 {
		t.Fatalf("notifier calls=%d tokens=%d, want 1/2", n.calls, n.tokens)
	}

	evt, err := repo.GetEvent(context.Background(), db, "evt-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !evt.Processed {
		t.Fatalf("event not committed")
	}

	order, err := repo.GetOrder(context.Background(), db, "order-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if len(order.Items) != 2 {
		t.Fatalf("order items not persisted: %d", len(order.Items))
	}
}

func TestProcess_DuplicateDeliveryIsNoOp(t *testing.T) {
	db := newServicesDB(t)
	n := &countingNotifier{}
	p := newProcessor(db, n)

	if _, err := p.Process(context.Background(), completedEvent("evt-1", "order-1")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := p.Process(context.Background(), completedEvent("evt-1", "order-1")); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("second delivery: expected ErrDuplicateEvent, got %v", err)
	}
	if n.calls != 1 {
		t.Fatalf("duplicate delivery reached the notifier: calls=%d", n.calls)
	}

	// Still exactly one token per item.
	for _, book := range []string{"book-1", "book-2"} {
		if _, err := repo.FindTokenByOrderAndBook(context.Background(), db, "order-1", book); err != nil {
			t.Fatalf("token for %s missing: %v", book, err)
		}
	}
	var count int64
	if err := db.Table("download_tokens").Where("order_id = ?", "order-1").Count(&count).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tokens after replay, got %d", count)
	}
}

func TestProcess_NonCompletedTypeIsRecordedOnly(t *testing.T) {
	db := newServicesDB(t)
	n := &countingNotifier{}
	p := newProcessor(db, n)

	tokens, err := p.Process(context.Background(), &PaymentEvent{
		EventID:   "evt-refund",
		EventType: "charge.refunded",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tokens) != 0 {
		t.Fatalf("non-completed type issued tokens")
	}
	if n.calls != 0 {
		t.Fatalf("non-completed type notified")
	}

	evt, err := repo.GetEvent(context.Background(), db, "evt-refund")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !evt.Processed {
		t.Fatalf("recorded event not committed")
	}
}

func TestProcess_ValidationRunsBeforeClaim(t *testing.T) {
	db := newServicesDB(t)
	p := newProcessor(db, &countingNotifier{})

	evt := completedEvent("evt-bad", "order-1")
	evt.Order.CustomerEmail = ""
	if _, err := p.Process(context.Background(), evt); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	// Nothing claimed: a corrected redelivery of the same id succeeds.
	if _, err := repo.GetEvent(context.Background(), db, "evt-bad"); err != repo.ErrNotFound {
		t.Fatalf("malformed event left a ledger row: %v", err)
	}
	if _, err := p.Process(context.Background(), completedEvent("evt-bad", "order-1")); err != nil {
		t.Fatalf("corrected redelivery: %v", err)
	}
}

func TestProcess_MissingEventIDRejected(t *testing.T) {
	db := newServicesDB(t)
	p := newProcessor(db, &countingNotifier{})
	evt := completedEvent("", "order-1")
	if _, err := p.Process(context.Background(), evt); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestProcess_NotifierFailureDoesNotFailEvent(t *testing.T) {
	db := newServicesDB(t)
	n := &countingNotifier{err: errors.New("smtp down")}
	p := newProcessor(db, n)

	tokens, err := p.Process(context.Background(), completedEvent("evt-1", "order-1"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("issuance lost on notify failure")
	}

	evt, err := repo.GetEvent(context.Background(), db, "evt-1")
	if err != nil || !evt.Processed {
		t.Fatalf("event not committed despite notify failure: %v %+v", err, evt)
	}
}
