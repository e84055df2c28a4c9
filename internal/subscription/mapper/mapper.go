// Package mapper translates Stripe subscription objects into local rows.
// Pure functions, no I/O.
package mapper

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/subscription/domain"
	stripe "github.com/stripe/stripe-go/v82"
)

// FromStripe maps a Stripe subscription into the local row shape. The caller
// assigns ID, OrgID and StripeSyncedAt.
func FromStripe(sub *stripe.Subscription) domain.Subscription {
	row := domain.Subscription{
		StripeSubscriptionID: sub.ID,
		Status:               mapStatus(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		row.TrialEnd = &trialEnd
	}
	// Stripe keeps period boundaries per item; the subscription-level period
	// end is the latest one across items.
	if periodEnd := currentPeriodEnd(sub); periodEnd > 0 {
		row.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		first := sub.Items.Data[0]
		if first.Price != nil {
			row.PlanPriceID = first.Price.ID
			if first.Price.Recurring != nil {
				row.BillingInterval = mapInterval(first.Price.Recurring.Interval)
			}
		}
	}

	return row
}

func currentPeriodEnd(sub *stripe.Subscription) int64 {
	if sub.Items == nil {
		return 0
	}
	var max int64
	for _, item := range sub.Items.Data {
		if item != nil && item.CurrentPeriodEnd > max {
			max = item.CurrentPeriodEnd
		}
	}
	return max
}

// ItemsFromStripe maps the subscription's line items. The caller assigns
// local IDs via DiffItems.
func ItemsFromStripe(sub *stripe.Subscription) []domain.SubscriptionItem {
	if sub.Items == nil {
		return nil
	}
	items := make([]domain.SubscriptionItem, 0, len(sub.Items.Data))
	for _, item := range sub.Items.Data {
		if item == nil || item.ID == "" {
			continue
		}
		row := domain.SubscriptionItem{
			StripeItemID: item.ID,
			Quantity:     item.Quantity,
		}
		if item.Price != nil {
			row.PriceID = item.Price.ID
		}
		items = append(items, row)
	}
	return items
}

// DiffItems computes the minimal change set between the cached items and the
// incoming Stripe items. Unchanged rows are left alone so local metadata
// survives a sync. Incoming rows inherit the existing row's identity on
// update; inserts receive fresh IDs from genID.
func DiffItems(orgID, subscriptionID snowflake.ID, existing, incoming []domain.SubscriptionItem, genID func() snowflake.ID, now time.Time) domain.ItemsDiff {
	existingByStripeID := make(map[string]domain.SubscriptionItem, len(existing))
	for _, item := range existing {
		existingByStripeID[item.StripeItemID] = item
	}

	var diff domain.ItemsDiff
	seen := make(map[string]struct{}, len(incoming))
	for _, item := range incoming {
		seen[item.StripeItemID] = struct{}{}
		current, ok := existingByStripeID[item.StripeItemID]
		if !ok {
			item.ID = genID()
			item.OrgID = orgID
			item.SubscriptionID = subscriptionID
			item.CreatedAt = now
			item.UpdatedAt = now
			diff.Insert = append(diff.Insert, item)
			continue
		}
		if current.PriceID == item.PriceID && current.Quantity == item.Quantity {
			continue
		}
		current.PriceID = item.PriceID
		current.Quantity = item.Quantity
		current.UpdatedAt = now
		diff.Update = append(diff.Update, current)
	}

	for _, item := range existing {
		if _, ok := seen[item.StripeItemID]; !ok {
			diff.Delete = append(diff.Delete, item.ID)
		}
	}

	return diff
}

// mapStatus normalizes Stripe's status enum. Statuses this service has never
// seen fall back to incomplete rather than failing the sync.
func mapStatus(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domain.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return domain.StatusTrialing
	case stripe.SubscriptionStatusCanceled:
		return domain.StatusCanceled
	case stripe.SubscriptionStatusPastDue:
		return domain.StatusPastDue
	case stripe.SubscriptionStatusPaused:
		return domain.StatusPaused
	case stripe.SubscriptionStatusIncomplete:
		return domain.StatusIncomplete
	case stripe.SubscriptionStatusIncompleteExpired:
		return domain.StatusIncompleteExpired
	case stripe.SubscriptionStatusUnpaid:
		return domain.StatusUnpaid
	default:
		return domain.StatusIncomplete
	}
}

func mapInterval(interval stripe.PriceRecurringInterval) domain.BillingInterval {
	switch interval {
	case stripe.PriceRecurringIntervalYear:
		return domain.IntervalYear
	default:
		return domain.IntervalMonth
	}
}
