package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/backoffice/internal/stripeclient"
	syncengine "github.com/smallbiznis/backoffice/internal/sync"
	"go.uber.org/zap"
)

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20

// HandleStripeWebhook verifies, decodes and applies one Stripe delivery.
// Stripe retries anything but a 2xx, so every outcome that must not be
// redelivered (ignored event types, unknown customers, already-applied
// state) answers 200.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.recordWebhook(c, "unknown", "read_error")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	if err := s.webhookParser.Verify(ctx, payload, c.Request.Header, s.clock.Now()); err != nil {
		s.recordWebhook(c, "unknown", "invalid_signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	event, err := s.webhookParser.Parse(ctx, payload)
	if err != nil {
		switch {
		case errors.Is(err, stripeclient.ErrEventIgnored):
			s.recordWebhook(c, "ignored", "ignored")
			c.JSON(http.StatusOK, gin.H{"received": true})
		case errors.Is(err, stripeclient.ErrInvalidEvent):
			s.recordWebhook(c, "unknown", "invalid_event")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		default:
			s.recordWebhook(c, "unknown", "invalid_payload")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		}
		return
	}

	log := s.log.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", event.StripeType),
		zap.String("customer_id", event.CustomerID),
	)

	if err := s.syncEngine.SyncFromEvent(ctx, *event); err != nil {
		switch {
		case errors.Is(err, syncengine.ErrUnknownCustomer):
			// Data inconsistency, not a delivery failure. Acknowledge so
			// Stripe stops retrying.
			log.Warn("webhook for unknown stripe customer")
			s.recordWebhook(c, event.Type, "unknown_customer")
			c.JSON(http.StatusOK, gin.H{"received": true})
		case errors.Is(err, stripeclient.ErrEventIgnored):
			s.recordWebhook(c, event.Type, "ignored")
			c.JSON(http.StatusOK, gin.H{"received": true})
		default:
			// Transient failure, let Stripe redeliver.
			log.Error("webhook processing failed", zap.Error(err))
			s.recordWebhook(c, event.Type, "failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		}
		return
	}

	s.recordWebhook(c, event.Type, "processed")
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (s *Server) recordWebhook(c *gin.Context, eventType, result string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(c.Request.Context(), eventType, result)
	}
}
