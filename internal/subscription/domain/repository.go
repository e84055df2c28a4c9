package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the row or updates the existing row keyed by
	// stripe_subscription_id. Updates older than the stored stripe_synced_at
	// are discarded (last-writer-wins by Stripe-side timestamp).
	Upsert(ctx context.Context, db *gorm.DB, row *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*Subscription, error)
	ListItems(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionItem, error)
	ApplyItemsDiff(ctx context.Context, db *gorm.DB, diff ItemsDiff) error
	// LatestByOrg returns the most recently synced subscription per requested
	// organization.
	LatestByOrg(ctx context.Context, db *gorm.DB, orgIDs []snowflake.ID) (map[snowflake.ID]*Subscription, error)
}

// ItemsDiff is the minimal change set between cached and incoming line items.
type ItemsDiff struct {
	Insert []SubscriptionItem
	Update []SubscriptionItem
	Delete []snowflake.ID
}

// Empty reports whether the diff changes nothing.
func (d ItemsDiff) Empty() bool {
	return len(d.Insert) == 0 && len(d.Update) == 0 && len(d.Delete) == 0
}
