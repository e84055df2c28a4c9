package mapper

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/subscription/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripeSub(id string, status stripe.SubscriptionStatus) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                id,
		Status:            status,
		CancelAtPeriodEnd: false,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:               "si_1",
					Quantity:         1,
					CurrentPeriodEnd: 1756500000,
					Price: &stripe.Price{
						ID:        "price_month",
						Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
					},
				},
			},
		},
	}
}

func TestFromStripe_MapsCoreFields(t *testing.T) {
	sub := stripeSub("sub_1", stripe.SubscriptionStatusActive)
	sub.TrialEnd = 1756400000
	sub.CancelAtPeriodEnd = true

	row := FromStripe(sub)

	assert.Equal(t, "sub_1", row.StripeSubscriptionID)
	assert.Equal(t, domain.StatusActive, row.Status)
	assert.True(t, row.CancelAtPeriodEnd)
	assert.Equal(t, "price_month", row.PlanPriceID)
	assert.Equal(t, domain.IntervalMonth, row.BillingInterval)
	require.NotNil(t, row.TrialEnd)
	assert.Equal(t, time.Unix(1756400000, 0).UTC(), *row.TrialEnd)
	assert.Equal(t, time.Unix(1756500000, 0).UTC(), row.CurrentPeriodEnd)
}

func TestFromStripe_StatusMapping(t *testing.T) {
	cases := []struct {
		in   stripe.SubscriptionStatus
		want domain.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, domain.StatusActive},
		{stripe.SubscriptionStatusTrialing, domain.StatusTrialing},
		{stripe.SubscriptionStatusCanceled, domain.StatusCanceled},
		{stripe.SubscriptionStatusPastDue, domain.StatusPastDue},
		{stripe.SubscriptionStatusPaused, domain.StatusPaused},
		{stripe.SubscriptionStatusIncomplete, domain.StatusIncomplete},
		{stripe.SubscriptionStatusIncompleteExpired, domain.StatusIncompleteExpired},
		{stripe.SubscriptionStatusUnpaid, domain.StatusUnpaid},
		// Unknown statuses must not fail the sync.
		{stripe.SubscriptionStatus("some_future_status"), domain.StatusIncomplete},
	}
	for _, tc := range cases {
		row := FromStripe(stripeSub("sub_x", tc.in))
		assert.Equal(t, tc.want, row.Status, "status %q", tc.in)
	}
}

func TestFromStripe_NoItems(t *testing.T) {
	row := FromStripe(&stripe.Subscription{ID: "sub_bare", Status: stripe.SubscriptionStatusActive})
	assert.Empty(t, row.PlanPriceID)
	assert.Empty(t, string(row.BillingInterval))
	assert.Nil(t, row.TrialEnd)
	assert.True(t, row.CurrentPeriodEnd.IsZero())
}

func TestFromStripe_PeriodEndIsLatestAcrossItems(t *testing.T) {
	sub := stripeSub("sub_1", stripe.SubscriptionStatusActive)
	sub.Items.Data = append(sub.Items.Data, &stripe.SubscriptionItem{
		ID:               "si_2",
		Quantity:         2,
		CurrentPeriodEnd: 1756600000,
	})

	row := FromStripe(sub)
	assert.Equal(t, time.Unix(1756600000, 0).UTC(), row.CurrentPeriodEnd)
}

func TestItemsFromStripe_SkipsMalformedEntries(t *testing.T) {
	sub := stripeSub("sub_1", stripe.SubscriptionStatusActive)
	sub.Items.Data = append(sub.Items.Data, nil, &stripe.SubscriptionItem{ID: ""})

	items := ItemsFromStripe(sub)
	assert.Len(t, items, 1)
	assert.Equal(t, "si_1", items[0].StripeItemID)
}

func TestDiffItems(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	now := time.Now().UTC()

	orgID := node.Generate()
	subID := node.Generate()

	keepID := node.Generate()
	changeID := node.Generate()
	dropID := node.Generate()
	existing := []domain.SubscriptionItem{
		{ID: keepID, StripeItemID: "si_keep", PriceID: "price_a", Quantity: 1},
		{ID: changeID, StripeItemID: "si_change", PriceID: "price_a", Quantity: 1},
		{ID: dropID, StripeItemID: "si_drop", PriceID: "price_b", Quantity: 1},
	}
	incoming := []domain.SubscriptionItem{
		{StripeItemID: "si_keep", PriceID: "price_a", Quantity: 1},
		{StripeItemID: "si_change", PriceID: "price_a", Quantity: 3},
		{StripeItemID: "si_new", PriceID: "price_c", Quantity: 1},
	}

	diff := DiffItems(orgID, subID, existing, incoming, node.Generate, now)

	// Unchanged rows are untouched so local metadata survives.
	require.Len(t, diff.Insert, 1)
	assert.Equal(t, "si_new", diff.Insert[0].StripeItemID)
	assert.Equal(t, orgID, diff.Insert[0].OrgID)
	assert.Equal(t, subID, diff.Insert[0].SubscriptionID)
	assert.NotZero(t, diff.Insert[0].ID)

	require.Len(t, diff.Update, 1)
	assert.Equal(t, changeID, diff.Update[0].ID)
	assert.Equal(t, int64(3), diff.Update[0].Quantity)

	require.Len(t, diff.Delete, 1)
	assert.Equal(t, dropID, diff.Delete[0])
}

func TestDiffItems_NoChanges(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	existing := []domain.SubscriptionItem{
		{ID: node.Generate(), StripeItemID: "si_1", PriceID: "price_a", Quantity: 2},
	}
	incoming := []domain.SubscriptionItem{
		{StripeItemID: "si_1", PriceID: "price_a", Quantity: 2},
	}

	diff := DiffItems(node.Generate(), node.Generate(), existing, incoming, node.Generate, time.Now().UTC())
	assert.True(t, diff.Empty())
}
