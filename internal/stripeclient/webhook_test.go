package stripeclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func signedHeader(payload []byte, at time.Time, secret string) http.Header {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	sig := hex.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, sig))
	return h
}

func newParser(t *testing.T) *WebhookParser {
	t.Helper()
	p, err := NewWebhookParser(testSecret)
	require.NoError(t, err)
	return p
}

func TestNewWebhookParser_RequiresSecret(t *testing.T) {
	_, err := NewWebhookParser("  ")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerify_ValidSignature(t *testing.T) {
	p := newParser(t)
	now := time.Now()
	payload := []byte(`{"id":"evt_1"}`)

	err := p.Verify(context.Background(), payload, signedHeader(payload, now, testSecret), now)
	assert.NoError(t, err)
}

func TestVerify_WrongSecret(t *testing.T) {
	p := newParser(t)
	now := time.Now()
	payload := []byte(`{"id":"evt_1"}`)

	err := p.Verify(context.Background(), payload, signedHeader(payload, now, "whsec_other"), now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_TamperedPayload(t *testing.T) {
	p := newParser(t)
	now := time.Now()
	payload := []byte(`{"id":"evt_1"}`)
	headers := signedHeader(payload, now, testSecret)

	err := p.Verify(context.Background(), []byte(`{"id":"evt_2"}`), headers, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	p := newParser(t)
	now := time.Now()
	payload := []byte(`{"id":"evt_1"}`)
	headers := signedHeader(payload, now.Add(-10*time.Minute), testSecret)

	err := p.Verify(context.Background(), payload, headers, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_MissingHeader(t *testing.T) {
	p := newParser(t)

	err := p.Verify(context.Background(), []byte(`{}`), http.Header{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParse_SubscriptionEvent(t *testing.T) {
	p := newParser(t)
	payload := []byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"created": 1756400000,
		"data": {"object": {"id": "sub_1", "status": "active", "customer": {"id": "cus_1"}}}
	}`)

	event, err := p.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventSubscriptionChanged, event.Type)
	assert.Equal(t, "cus_1", event.CustomerID)
	assert.Equal(t, time.Unix(1756400000, 0).UTC(), event.Created)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ID)
}

func TestParse_InvoicePaid(t *testing.T) {
	p := newParser(t)
	payload := []byte(`{
		"id": "evt_2",
		"type": "invoice.paid",
		"created": 1756400000,
		"data": {"object": {"id": "in_1", "customer": {"id": "cus_1"}, "metadata": {"credits": "500"}}}
	}`)

	event, err := p.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventInvoicePaid, event.Type)
	require.NotNil(t, event.Invoice)
	assert.Equal(t, "500", event.Invoice.Metadata["credits"])
}

func TestParse_CheckoutCompleted(t *testing.T) {
	p := newParser(t)
	payload := []byte(`{
		"id": "evt_3",
		"type": "checkout.session.completed",
		"created": 1756400000,
		"data": {"object": {"id": "cs_1", "customer": "cus_1"}}
	}`)

	event, err := p.Parse(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, "cus_1", event.CustomerID)
}

func TestParse_UnhandledType(t *testing.T) {
	p := newParser(t)
	payload := []byte(`{"id": "evt_4", "type": "payment_intent.created", "created": 1, "data": {"object": {}}}`)

	_, err := p.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, ErrEventIgnored)
}

func TestParse_MissingCustomer(t *testing.T) {
	p := newParser(t)
	payload := []byte(`{
		"id": "evt_5",
		"type": "customer.subscription.updated",
		"created": 1,
		"data": {"object": {"id": "sub_1", "status": "active"}}
	}`)

	_, err := p.Parse(context.Background(), payload)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestParse_Garbage(t *testing.T) {
	p := newParser(t)

	_, err := p.Parse(context.Background(), []byte("not json"))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
