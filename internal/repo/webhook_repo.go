// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the webhook ledger used to deduplicate
// upstream payment events.
//
// The claim is a unique-constraint insert: whichever caller manages to insert
// the event_id row wins, everyone else gets ErrDuplicate. That makes the
// insert itself the compare-and-swap — there is no separate "check then
// insert" window, and the guarantee holds across processes sharing the store.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// ClaimEvent attempts to register eventID as being processed. It returns nil
// to the single caller that wins the insert race and ErrDuplicate to every
// other caller, including redeliveries of an event whose first processing is
// still in flight or previously failed after the claim.
func ClaimEvent(ctx context.Context, db *gorm.DB, eventID, eventType string, now time.Time) error {
	rec := &domain.WebhookEvent{
		EventID:    eventID,
		EventType:  eventType,
		Processed:  false,
		ReceivedAt: now,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// CommitEvent marks a claimed event as fully processed. Only the claim winner
// calls this, after issuance and notification have completed.
func CommitEvent(ctx context.Context, db *gorm.DB, eventID string, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent fetches a ledger row by event id, or ErrNotFound.
func GetEvent(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var rec domain.WebhookEvent
	err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}
