package stripeclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
)

// Event kinds the reconciler acts on.
const (
	EventSubscriptionChanged = "subscription_changed"
	EventInvoicePaid         = "invoice_paid"
	EventCheckoutCompleted   = "checkout_completed"
)

// Event is the narrowed webhook envelope handed to the sync engine.
type Event struct {
	ID         string
	Type       string
	StripeType string
	Created    time.Time
	CustomerID string

	Subscription *stripe.Subscription
	Invoice      *stripe.Invoice
}

// signatureTolerance bounds how stale a webhook timestamp may be. Stripe
// re-signs on every delivery attempt.
const signatureTolerance = 5 * time.Minute

// WebhookParser verifies and decodes inbound Stripe webhook deliveries.
type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) (*WebhookParser, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	return &WebhookParser{secret: secret}, nil
}

// Verify checks the Stripe-Signature header against the payload.
func (p *WebhookParser) Verify(ctx context.Context, payload []byte, headers http.Header, now time.Time) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(p.secret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return ErrInvalidSignature
}

// Parse decodes the event envelope into the narrowed Event. Unhandled event
// types return ErrEventIgnored; callers acknowledge those with a 200.
func (p *WebhookParser) Parse(ctx context.Context, payload []byte) (*Event, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return nil, ErrInvalidEvent
	}

	event := &Event{
		ID:         envelope.ID,
		StripeType: strings.TrimSpace(envelope.Type),
		Created:    time.Unix(envelope.Created, 0).UTC(),
	}

	switch event.StripeType {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(envelope.Data.Object, &sub); err != nil {
			return nil, ErrInvalidPayload
		}
		if strings.TrimSpace(sub.ID) == "" {
			return nil, ErrInvalidEvent
		}
		event.Type = EventSubscriptionChanged
		event.Subscription = &sub
		if sub.Customer != nil {
			event.CustomerID = sub.Customer.ID
		}
	case "invoice.paid", "invoice.payment_succeeded":
		var inv stripe.Invoice
		if err := json.Unmarshal(envelope.Data.Object, &inv); err != nil {
			return nil, ErrInvalidPayload
		}
		if strings.TrimSpace(inv.ID) == "" {
			return nil, ErrInvalidEvent
		}
		event.Type = EventInvoicePaid
		event.Invoice = &inv
		if inv.Customer != nil {
			event.CustomerID = inv.Customer.ID
		}
	case "checkout.session.completed":
		var session checkoutSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, ErrInvalidPayload
		}
		event.Type = EventCheckoutCompleted
		event.CustomerID = strings.TrimSpace(session.Customer)
	default:
		return nil, ErrEventIgnored
	}

	if event.CustomerID == "" {
		return nil, ErrInvalidEvent
	}
	return event, nil
}

type webhookEnvelope struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Created int64               `json:"created"`
	Data    webhookEnvelopeData `json:"data"`
}

type webhookEnvelopeData struct {
	Object json.RawMessage `json:"object"`
}

type checkoutSession struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}
