package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
)

type ListRequest struct {
	Search     string `form:"q"`
	SortBy     string `form:"sort_by"`
	Descending bool   `form:"desc"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// SubscriptionSummary is the latest-subscription projection shown in the
// organization listing.
type SubscriptionSummary struct {
	ID                snowflake.ID                          `json:"id"`
	Status            subscriptiondomain.SubscriptionStatus `json:"status"`
	PlanPriceID       string                                `json:"plan_price_id"`
	BillingInterval   subscriptiondomain.BillingInterval    `json:"billing_interval"`
	CancelAtPeriodEnd bool                                  `json:"cancel_at_period_end"`
	TrialEnd          *time.Time                            `json:"trial_end,omitempty"`
	CurrentPeriodEnd  time.Time                             `json:"current_period_end"`
}

type ListItem struct {
	ID             snowflake.ID         `json:"id"`
	Name           string               `json:"name"`
	Slug           string               `json:"slug"`
	LogoURL        string               `json:"logo_url"`
	HasStripe      bool                 `json:"has_stripe"`
	CreditBalance  int64                `json:"credit_balance"`
	PendingInvites int64                `json:"pending_invites"`
	LastSyncedAt   *time.Time           `json:"last_synced_at,omitempty"`
	Subscription   *SubscriptionSummary `json:"subscription,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

type ListResponse struct {
	Organizations []ListItem `json:"organizations"`
	Total         int64      `json:"total"`
}

type Service interface {
	// List joins each organization with its most recent subscription, the
	// derived credit balance and the pending-invite count.
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id snowflake.ID) (*Organization, error)
	// Delete removes the organization and everything it owns. It refuses
	// while a sync for the organization is in flight.
	Delete(ctx context.Context, id snowflake.ID, requestedBy *snowflake.ID) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNotFound            = errors.New("organization_not_found")
	ErrSyncInProgress      = errors.New("sync_in_progress")
)
