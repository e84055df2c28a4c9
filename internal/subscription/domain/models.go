// Package domain contains persistence models for locally cached Stripe
// subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus mirrors Stripe's subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusPaused            SubscriptionStatus = "paused"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// BillingInterval is the recurring charge interval.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Subscription caches one Stripe subscription. Rows are never hard-deleted;
// canceled subscriptions remain as history. StripeSyncedAt is the
// last-writer-wins guard: a stale webhook can never overwrite state written
// from a newer Stripe snapshot.
type Subscription struct {
	ID                   snowflake.ID       `gorm:"primaryKey"`
	OrgID                snowflake.ID       `gorm:"not null;index"`
	StripeSubscriptionID string             `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_stripe_id"`
	Status               SubscriptionStatus `gorm:"type:text;not null"`
	PlanPriceID          string             `gorm:"type:text"`
	BillingInterval      BillingInterval    `gorm:"type:text"`
	CancelAtPeriodEnd    bool               `gorm:"not null;default:false"`
	TrialEnd             *time.Time         `gorm:""`
	CurrentPeriodEnd     time.Time          `gorm:""`
	StripeSyncedAt       time.Time          `gorm:"not null"`
	CreatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionItem is one line item on a subscription.
type SubscriptionItem struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	StripeItemID   string       `gorm:"type:text;not null;uniqueIndex:ux_subscription_items_stripe_id"`
	PriceID        string       `gorm:"type:text;not null"`
	Quantity       int64        `gorm:"not null;default:1"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionItem) TableName() string { return "subscription_items" }
