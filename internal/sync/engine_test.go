package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	ledgerdomain "github.com/smallbiznis/backoffice/internal/creditledger/domain"
	ledgerservice "github.com/smallbiznis/backoffice/internal/creditledger/service"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	orgdomain "github.com/smallbiznis/backoffice/internal/organization/domain"
	orgrepository "github.com/smallbiznis/backoffice/internal/organization/repository"
	"github.com/smallbiznis/backoffice/internal/stripeclient"
	"github.com/smallbiznis/backoffice/internal/sync/inflight"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/backoffice/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/backoffice/internal/subscription/service"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockStripeClient struct {
	mock.Mock
}

func (m *mockStripeClient) ListSubscriptions(ctx context.Context, customerID string, pageSize int) ([]*stripe.Subscription, error) {
	args := m.Called(ctx, customerID, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*stripe.Subscription), args.Error(1)
}

func (m *mockStripeClient) ListPaidInvoices(ctx context.Context, req stripeclient.ListInvoicesRequest) ([]*stripe.Invoice, error) {
	args := m.Called(ctx, req.CustomerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*stripe.Invoice), args.Error(1)
}

func (m *mockStripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

func (m *mockStripeClient) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*stripe.Subscription, error) {
	args := m.Called(ctx, subscriptionID, immediate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*stripe.Subscription), args.Error(1)
}

type stubAuditSvc struct{}

func (stubAuditSvc) AuditLog(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

var _ auditdomain.Service = stubAuditSvc{}

type engineFixture struct {
	engine   *Engine
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	stripe   *mockStripeClient
	orgRepo  orgdomain.Repository
	tracker  *inflight.Tracker
	ledger   ledgerdomain.Service
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionItem{},
		&ledgerdomain.CreditTransaction{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_stripe_id ON subscriptions(stripe_subscription_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_subscription_items_stripe_id ON subscription_items(stripe_item_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_tx_org_ref ON credit_transactions(org_id, external_reference)")

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	stripeCli := &mockStripeClient{}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		AuditSvc: stubAuditSvc{},
	})

	subSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fake,
		Repo:     subscriptionrepository.Provide(),
		Stripe:   stripeCli,
		AuditSvc: stubAuditSvc{},
	})

	holder, err := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	require.NoError(t, err)

	tracker := inflight.NewTracker()
	orgRepo := orgrepository.NewRepository()

	engine := NewEngine(Params{
		DB:         db,
		Log:        log,
		Clock:      fake,
		ConfigHold: holder,
		OrgRepo:    orgRepo,
		SubSvc:     subSvc,
		LedgerSvc:  ledgerSvc,
		Stripe:     stripeCli,
		Inflight:   tracker,
	})

	return &engineFixture{
		engine:  engine,
		db:      db,
		node:    node,
		clock:   fake,
		stripe:  stripeCli,
		orgRepo: orgRepo,
		tracker: tracker,
		ledger:  ledgerSvc,
	}
}

func (f *engineFixture) createOrg(t *testing.T, customerID string) snowflake.ID {
	t.Helper()
	org := orgdomain.Organization{
		ID:        f.node.Generate(),
		Name:      "Org " + f.node.Generate().String(),
		Slug:      "org-" + f.node.Generate().String(),
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}
	if customerID != "" {
		org.StripeCustomerID = &customerID
	}
	require.NoError(t, f.db.Create(&org).Error)
	return org.ID
}

func activeSub(id string) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:               "si_" + id,
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

func creditInvoice(id string, credits string) *stripe.Invoice {
	return &stripe.Invoice{
		ID:       id,
		Metadata: map[string]string{"credits": credits},
	}
}

func TestSyncOrganizations_FullPass(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	f.stripe.On("ListSubscriptions", mock.Anything, "cus_1", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_1")}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_1").
		Return([]*stripe.Invoice{
			creditInvoice("in_1", "2000"),
			{ID: "in_plain"}, // regular subscription invoice, no credits
		}, nil)

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Subscriptions.Succeeded)
	assert.Equal(t, 0, result.Subscriptions.Failed)
	assert.Equal(t, 1, result.Orders.Succeeded)

	balance, err := f.ledger.GetBalance(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), balance)

	var org orgdomain.Organization
	require.NoError(t, f.db.First(&org, "id = ?", orgID).Error)
	require.NotNil(t, org.LastSyncedAt)
}

func TestSyncOrganizations_RerunIsIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	f.stripe.On("ListSubscriptions", mock.Anything, "cus_1", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_1")}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_1").
		Return([]*stripe.Invoice{creditInvoice("in_1", "2000")}, nil)

	ctx := context.Background()
	_, err := f.engine.SyncOrganizations(ctx, []snowflake.ID{orgID})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	result, err := f.engine.SyncOrganizations(ctx, []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Subscriptions.Succeeded)
	assert.Equal(t, 1, result.Orders.Succeeded)

	var subCount, txCount int64
	f.db.Model(&subscriptiondomain.Subscription{}).Count(&subCount)
	f.db.Model(&ledgerdomain.CreditTransaction{}).Count(&txCount)
	assert.Equal(t, int64(1), subCount)
	assert.Equal(t, int64(1), txCount)

	balance, _ := f.ledger.GetBalance(ctx, orgID)
	assert.Equal(t, int64(2000), balance)
}

func TestSyncOrganizations_SkipsOrgWithoutCustomer(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "")

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Subscriptions.Skipped)
	assert.Equal(t, 0, result.Subscriptions.Succeeded)
}

func TestSyncOrganizations_UnknownOrgSkipped(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{f.node.Generate()})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Subscriptions.Skipped)
}

func TestSyncOrganizations_PartialFailureIsolation(t *testing.T) {
	f := newEngineFixture(t)
	orgA := f.createOrg(t, "cus_a")
	orgB := f.createOrg(t, "cus_b")
	orgC := f.createOrg(t, "cus_c")

	f.stripe.On("ListSubscriptions", mock.Anything, "cus_a", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_a")}, nil)
	f.stripe.On("ListSubscriptions", mock.Anything, "cus_b", mock.Anything).
		Return(nil, errors.New("customer lookup failed"))
	f.stripe.On("ListSubscriptions", mock.Anything, "cus_c", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_c")}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_a").Return([]*stripe.Invoice{}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_c").Return([]*stripe.Invoice{}, nil)

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgA, orgB, orgC})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Subscriptions.Succeeded)
	assert.Equal(t, 1, result.Subscriptions.Failed)

	// A and C synced despite B's failure.
	var count int64
	f.db.Model(&subscriptiondomain.Subscription{}).Count(&count)
	assert.Equal(t, int64(2), count)

	// B's last_synced_at did not advance.
	var orgRowB orgdomain.Organization
	require.NoError(t, f.db.First(&orgRowB, "id = ?", orgB).Error)
	assert.Nil(t, orgRowB.LastSyncedAt)
}

func TestSyncOrganizations_FailedOrderPassKeepsWatermark(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	f.stripe.On("ListSubscriptions", mock.Anything, "cus_1", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_1")}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_1").
		Return(nil, errors.New("rate limited")).Once()

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Orders.Failed)

	// The invoice pass failed, so the watermark must not move: the next
	// incremental fetch has to re-cover the window this pass missed.
	var orgRow orgdomain.Organization
	require.NoError(t, f.db.First(&orgRow, "id = ?", orgID).Error)
	assert.Nil(t, orgRow.LastSyncedAt)

	// A later sync still sees the invoice and applies the credits.
	f.clock.Advance(2 * time.Hour)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_1").
		Return([]*stripe.Invoice{creditInvoice("in_1", "700")}, nil)

	result, err = f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Orders.Succeeded)

	balance, err := f.ledger.GetBalance(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), balance)

	require.NoError(t, f.db.First(&orgRow, "id = ?", orgID).Error)
	require.NotNil(t, orgRow.LastSyncedAt)
	assert.Equal(t, f.clock.Now().UTC(), orgRow.LastSyncedAt.UTC())
}

func TestSyncOrganizations_CanceledContextAborts(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.SyncOrganizations(ctx, []snowflake.ID{orgID})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncOrganizations_EmptyInput(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.SyncOrganizations(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoOrganizations)
}

func TestSyncFromEvent_SubscriptionChanged(t *testing.T) {
	f := newEngineFixture(t)
	f.createOrg(t, "cus_1")

	event := stripeclient.Event{
		ID:           "evt_1",
		Type:         stripeclient.EventSubscriptionChanged,
		CustomerID:   "cus_1",
		Created:      f.clock.Now(),
		Subscription: activeSub("sub_1"),
	}

	require.NoError(t, f.engine.SyncFromEvent(context.Background(), event))

	var row subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&row, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, subscriptiondomain.StatusActive, row.Status)
}

func TestSyncFromEvent_StaleSubscriptionEventIgnored(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")
	ctx := context.Background()

	canceled := activeSub("sub_1")
	canceled.Status = stripe.SubscriptionStatusCanceled
	require.NoError(t, f.engine.SyncFromEvent(ctx, stripeclient.Event{
		ID: "evt_new", Type: stripeclient.EventSubscriptionChanged,
		CustomerID: "cus_1", Created: f.clock.Now(), Subscription: canceled,
	}))

	// Older event redelivered out of order.
	require.NoError(t, f.engine.SyncFromEvent(ctx, stripeclient.Event{
		ID: "evt_old", Type: stripeclient.EventSubscriptionChanged,
		CustomerID: "cus_1", Created: f.clock.Now().Add(-time.Hour), Subscription: activeSub("sub_1"),
	}))

	var row subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&row, "org_id = ?", orgID).Error)
	assert.Equal(t, subscriptiondomain.StatusCanceled, row.Status)
}

func TestSyncFromEvent_InvoicePaidCreditsOnce(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")
	ctx := context.Background()

	event := stripeclient.Event{
		ID:         "evt_1",
		Type:       stripeclient.EventInvoicePaid,
		CustomerID: "cus_1",
		Created:    f.clock.Now(),
		Invoice:    creditInvoice("in_1", "500"),
	}

	// Stripe delivers at least once; both deliveries must succeed.
	require.NoError(t, f.engine.SyncFromEvent(ctx, event))
	require.NoError(t, f.engine.SyncFromEvent(ctx, event))

	balance, err := f.ledger.GetBalance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestSyncFromEvent_InvoiceWithoutCreditsIgnored(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	require.NoError(t, f.engine.SyncFromEvent(context.Background(), stripeclient.Event{
		ID: "evt_1", Type: stripeclient.EventInvoicePaid,
		CustomerID: "cus_1", Created: f.clock.Now(),
		Invoice: &stripe.Invoice{ID: "in_plain"},
	}))

	balance, _ := f.ledger.GetBalance(context.Background(), orgID)
	assert.Equal(t, int64(0), balance)
}

func TestSyncFromEvent_UnknownCustomer(t *testing.T) {
	f := newEngineFixture(t)

	err := f.engine.SyncFromEvent(context.Background(), stripeclient.Event{
		ID: "evt_1", Type: stripeclient.EventInvoicePaid,
		CustomerID: "cus_ghost", Created: f.clock.Now(),
		Invoice: creditInvoice("in_1", "100"),
	})
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestSyncFromEvent_CheckoutCompletedRunsFullSync(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	f.stripe.On("ListSubscriptions", mock.Anything, "cus_1", mock.Anything).
		Return([]*stripe.Subscription{activeSub("sub_1")}, nil)
	f.stripe.On("ListPaidInvoices", mock.Anything, "cus_1").
		Return([]*stripe.Invoice{creditInvoice("in_1", "1000")}, nil)

	require.NoError(t, f.engine.SyncFromEvent(context.Background(), stripeclient.Event{
		ID: "evt_1", Type: stripeclient.EventCheckoutCompleted,
		CustomerID: "cus_1", Created: f.clock.Now(),
	}))

	balance, _ := f.ledger.GetBalance(context.Background(), orgID)
	assert.Equal(t, int64(1000), balance)

	var count int64
	f.db.Model(&subscriptiondomain.Subscription{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreditAmount(t *testing.T) {
	assert.Equal(t, int64(0), mustCreditAmount(nil))
	assert.Equal(t, int64(0), mustCreditAmount(&stripe.Invoice{ID: "in_1"}))
	assert.Equal(t, int64(0), mustCreditAmount(creditInvoice("in_1", "not-a-number")))
	assert.Equal(t, int64(0), mustCreditAmount(creditInvoice("in_1", "-50")))
	assert.Equal(t, int64(750), mustCreditAmount(creditInvoice("in_1", " 750 ")))
}

func mustCreditAmount(invoice *stripe.Invoice) int64 {
	amount, ok := creditAmount(invoice, "credits")
	if !ok {
		return 0
	}
	return amount
}

func TestFailureOutcome(t *testing.T) {
	assert.Equal(t, "failed_transient", failureOutcome(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.Equal(t, "failed_transient", failureOutcome(&stripe.Error{HTTPStatusCode: http.StatusBadGateway}))
	assert.Equal(t, "failed_transient", failureOutcome(context.DeadlineExceeded))
	assert.Equal(t, "failed", failureOutcome(&stripe.Error{HTTPStatusCode: http.StatusBadRequest}))
	assert.Equal(t, "failed", failureOutcome(errors.New("schema drift")))
}

func TestSyncOrganizations_OrgMidDeleteSkipped(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	require.True(t, f.tracker.BeginDelete(orgID))
	defer f.tracker.EndDelete(orgID)

	result, err := f.engine.SyncOrganizations(context.Background(), []snowflake.ID{orgID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Subscriptions.Skipped)
	assert.Equal(t, 0, result.Subscriptions.Succeeded)
}

func TestSyncFromEvent_OrgMidDeleteRefused(t *testing.T) {
	f := newEngineFixture(t)
	orgID := f.createOrg(t, "cus_1")

	require.True(t, f.tracker.BeginDelete(orgID))
	defer f.tracker.EndDelete(orgID)

	err := f.engine.SyncFromEvent(context.Background(), stripeclient.Event{
		Type:       stripeclient.EventInvoicePaid,
		CustomerID: "cus_1",
		Created:    f.clock.Now(),
		Invoice:    creditInvoice("in_1", "100"),
	})
	assert.ErrorIs(t, err, ErrDeleteInProgress)
}
