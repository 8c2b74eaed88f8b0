// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for orders and
// their items. Orders exist for audit and support tooling; token issuance is
// keyed on (order_id, book_id) independently of these rows.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-backend/internal/domain"
)

// CreateOrder inserts an order together with its items. A replayed webhook
// that lost the ledger claim never reaches this function, but a retried event
// whose first processing failed mid-way may: an existing order with the same
// id is left untouched and no error is returned.
func CreateOrder(ctx context.Context, db *gorm.DB, orderID, customerEmail, eventID string, items []domain.OrderItem, now time.Time) (*domain.Order, error) {
	o := &domain.Order{
		ID:            orderID,
		CustomerEmail: customerEmail,
		EventID:       eventID,
		CreatedAt:     now,
	}
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].OrderID = orderID
		items[i].CreatedAt = now
	}
	o.Items = items

	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		if isUniqueViolation(err) {
			return GetOrder(ctx, db, orderID)
		}
		return nil, err
	}
	return o, nil
}

// GetOrder fetches an order with its items, or ErrNotFound.
func GetOrder(ctx context.Context, db *gorm.DB, orderID string) (*domain.Order, error) {
	var o domain.Order
	err := db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
