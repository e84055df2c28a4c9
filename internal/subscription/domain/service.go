package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	stripe "github.com/stripe/stripe-go/v82"
)

type CancelRequest struct {
	SubscriptionID snowflake.ID
	Immediate      bool
	// RequestedBy is the admin user issuing the command, recorded in the
	// audit trail.
	RequestedBy *snowflake.ID
}

type CancelResponse struct {
	Status            SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	Immediate         bool               `json:"immediate"`
}

//go:generate mockgen -source=service.go -destination=./mocks/mock_service.go -package=mocks
type Service interface {
	// Cancel executes the cancellation against Stripe, then updates the local
	// row from Stripe's response. On Stripe failure the local row is left
	// untouched and the error propagates.
	Cancel(ctx context.Context, req CancelRequest) (CancelResponse, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	// UpsertFromStripe maps the Stripe object and reconciles the local row
	// and its items. syncedAt is the Stripe-side timestamp used for the
	// stale-write guard.
	UpsertFromStripe(ctx context.Context, orgID snowflake.ID, sub *stripe.Subscription, syncedAt time.Time) error
}

var (
	ErrNotFound            = errors.New("subscription_not_found")
	ErrInvalidSubscription = errors.New("invalid_subscription")
)
