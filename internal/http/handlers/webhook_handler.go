// Payment webhook handler.
//
// POST /webhooks/payment receives order-completion events from the payment
// provider and hands them to the webhook processor, which claims the event,
// persists the order, and issues one download token per purchased book.
//
// Status codes are chosen for the provider's retry semantics: 200 tells it
// to stop (processed or known duplicate), 400 tells it the payload will
// never parse, 500 tells it to retry later.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-backend/internal/http/middleware"
	"github.com/tbourn/go-delivery-backend/internal/services"
)

// WebhookService processes payment events exactly once.
type WebhookService interface {
	Process(ctx context.Context, evt *services.PaymentEvent) ([]services.IssuedToken, error)
}

// WebhookHandlers groups the provider-facing endpoints.
type WebhookHandlers struct {
	processor WebhookService
}

// NewWebhook constructs the webhook handler set.
func NewWebhook(processor WebhookService) *WebhookHandlers {
	return &WebhookHandlers{processor: processor}
}

// PaymentWebhook ingests one payment event.
//
// POST /webhooks/payment
func (h *WebhookHandlers) PaymentWebhook(c *gin.Context) {
	var evt services.PaymentEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		middleware.ObserveWebhookEvent("malformed")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	issued, err := h.processor.Process(c.Request.Context(), &evt)
	switch {
	case err == nil:
		middleware.ObserveWebhookEvent("processed")
		middleware.ObserveTokensIssued(len(issued))
		ok(c, http.StatusOK, gin.H{
			"success":      true,
			"eventId":      evt.EventID,
			"tokensIssued": len(issued),
		})
	case errors.Is(err, services.ErrDuplicateEvent):
		// Already claimed by an earlier delivery. Acknowledge so the
		// provider stops retrying; no new tokens are issued.
		middleware.ObserveWebhookEvent("duplicate")
		ok(c, http.StatusOK, gin.H{
			"success":   true,
			"eventId":   evt.EventID,
			"duplicate": true,
		})
	case errors.Is(err, services.ErrValidation):
		middleware.ObserveWebhookEvent("malformed")
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "missing required event fields")
	default:
		middleware.ObserveWebhookEvent("failed")
		fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, "failed to process event")
	}
}
