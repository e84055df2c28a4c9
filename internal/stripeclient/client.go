// Package stripeclient is the outbound boundary to the Stripe API. The sync
// engine and the subscription command handler depend on the Client interface,
// never on stripe-go directly, so tests can substitute a fake.
package stripeclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/smallbiznis/backoffice/internal/config"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

var (
	ErrNotConfigured = errors.New("stripe_not_configured")
)

type ListInvoicesRequest struct {
	CustomerID string
	// Since bounds the query to invoices created at or after this instant.
	// Zero means full history.
	Since    time.Time
	PageSize int
}

type Client interface {
	// ListSubscriptions returns every subscription for the customer, all
	// statuses included, so canceled subscriptions reconcile too.
	ListSubscriptions(ctx context.Context, customerID string, pageSize int) ([]*stripe.Subscription, error)
	// ListPaidInvoices returns paid invoices for the customer.
	ListPaidInvoices(ctx context.Context, req ListInvoicesRequest) ([]*stripe.Invoice, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	// CancelSubscription cancels now when immediate, otherwise flags
	// cancel_at_period_end. Returns Stripe's resulting subscription object,
	// the authoritative state.
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*stripe.Subscription, error)
}

type apiClient struct {
	sc *client.API
}

// New builds the real Stripe client. Every outbound call is bounded by the
// configured HTTP timeout.
func New(cfg config.Config) (Client, error) {
	if cfg.StripeAPIKey == "" {
		return nil, ErrNotConfigured
	}

	timeout := cfg.StripeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	sc := &client.API{}
	sc.Init(cfg.StripeAPIKey, stripe.NewBackends(httpClient))
	return &apiClient{sc: sc}, nil
}

func (c *apiClient) ListSubscriptions(ctx context.Context, customerID string, pageSize int) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	if pageSize > 0 {
		params.Limit = stripe.Int64(int64(pageSize))
	}

	var subscriptions []*stripe.Subscription
	iter := c.sc.Subscriptions.List(params)
	for iter.Next() {
		subscriptions = append(subscriptions, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (c *apiClient) ListPaidInvoices(ctx context.Context, req ListInvoicesRequest) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(req.CustomerID),
		Status:   stripe.String(string(stripe.InvoiceStatusPaid)),
	}
	params.Context = ctx
	if req.PageSize > 0 {
		params.Limit = stripe.Int64(int64(req.PageSize))
	}
	if !req.Since.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{
			GreaterThanOrEqual: req.Since.Unix(),
		}
	}

	var invoices []*stripe.Invoice
	iter := c.sc.Invoices.List(params)
	for iter.Next() {
		invoices = append(invoices, iter.Invoice())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (c *apiClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return c.sc.Subscriptions.Get(subscriptionID, params)
}

func (c *apiClient) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*stripe.Subscription, error) {
	if immediate {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		return c.sc.Subscriptions.Cancel(subscriptionID, params)
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	return c.sc.Subscriptions.Update(subscriptionID, params)
}

// IsNotFound reports whether err is Stripe's resource_missing error.
func IsNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

// IsTransient reports whether err is worth retrying on a later sync:
// rate limits, Stripe-side 5xx, or a timed-out call.
func IsTransient(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}
