// Package sync reconciles locally cached billing state with Stripe. Each
// organization syncs independently; one organization's failure never aborts
// the rest of the batch.
package sync

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	ledgerdomain "github.com/smallbiznis/backoffice/internal/creditledger/domain"
	obsmetrics "github.com/smallbiznis/backoffice/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/backoffice/internal/organization/domain"
	"github.com/smallbiznis/backoffice/internal/stripeclient"
	"github.com/smallbiznis/backoffice/internal/sync/inflight"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownCustomer marks a Stripe object referencing a customer no
	// organization maps to. Callers log and skip; this is a data
	// inconsistency, not a processing failure.
	ErrUnknownCustomer = errors.New("unknown_stripe_customer")
	ErrNoOrganizations = errors.New("no_organizations")
	// ErrDeleteInProgress refuses event processing while the organization is
	// being removed.
	ErrDeleteInProgress = errors.New("organization_delete_in_progress")
)

// ItemCounts tallies per-item outcomes within one sync.
type ItemCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

// Result aggregates outcomes across every requested organization.
type Result struct {
	Subscriptions ItemCounts `json:"subscriptions"`
	Orders        ItemCounts `json:"orders"`
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	ConfigHold *config.SyncConfigHolder
	OrgRepo    orgdomain.Repository
	SubSvc     subscriptiondomain.Service
	LedgerSvc  ledgerdomain.Service
	Stripe     stripeclient.Client
	Inflight   *inflight.Tracker
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Engine orchestrates per-organization reconciliation against Stripe.
type Engine struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	configHold *config.SyncConfigHolder
	orgRepo    orgdomain.Repository
	subSvc     subscriptiondomain.Service
	ledgerSvc  ledgerdomain.Service
	stripe     stripeclient.Client
	inflight   *inflight.Tracker
	obsMetrics *obsmetrics.Metrics
}

func NewEngine(p Params) *Engine {
	return &Engine{
		db:         p.DB,
		log:        p.Log.Named("sync.engine"),
		clock:      p.Clock,
		configHold: p.ConfigHold,
		orgRepo:    p.OrgRepo,
		subSvc:     p.SubSvc,
		ledgerSvc:  p.LedgerSvc,
		stripe:     p.Stripe,
		inflight:   p.Inflight,
		obsMetrics: p.ObsMetrics,
	}
}

// SyncOrganizations reconciles each requested organization with Stripe.
// Organizations are processed independently; a per-organization failure is
// counted and the batch continues. Only a systemic fault (context
// cancellation, database down) aborts the batch, returning the counts
// accumulated so far alongside the error.
func (e *Engine) SyncOrganizations(ctx context.Context, orgIDs []snowflake.ID) (Result, error) {
	var result Result
	if len(orgIDs) == 0 {
		return result, ErrNoOrganizations
	}

	for _, orgID := range orgIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.syncOne(ctx, orgID, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// syncOne reconciles a single organization. Per-item failures are recorded
// in result; a non-nil return means a systemic fault.
func (e *Engine) syncOne(ctx context.Context, orgID snowflake.ID, result *Result) error {
	log := e.log.With(zap.String("org_id", orgID.String()))

	org, err := e.orgRepo.FindByID(ctx, e.db, orgID)
	if err != nil {
		if errors.Is(err, orgdomain.ErrNotFound) {
			log.Warn("sync requested for unknown organization")
			result.Subscriptions.Skipped++
			e.recordSync(ctx, "subscription", "skipped")
			return nil
		}
		return err
	}

	if org.StripeCustomerID == nil || strings.TrimSpace(*org.StripeCustomerID) == "" {
		// Never-subscribed organization, nothing to reconcile.
		result.Subscriptions.Skipped++
		e.recordSync(ctx, "subscription", "skipped")
		return nil
	}
	customerID := *org.StripeCustomerID

	if !e.inflight.Acquire(orgID) {
		log.Warn("organization is being deleted, sync skipped")
		result.Subscriptions.Skipped++
		e.recordSync(ctx, "subscription", "skipped")
		return nil
	}
	defer e.inflight.Release(orgID)

	cfg := e.configHold.Get()
	fetchedAt := e.clock.Now()
	failedBefore := result.Subscriptions.Failed + result.Orders.Failed

	subs, err := e.stripe.ListSubscriptions(ctx, customerID, cfg.PageSize)
	if err != nil {
		if isSystemic(ctx, err) {
			return err
		}
		log.Error("stripe subscription listing failed",
			zap.Bool("transient", stripeclient.IsTransient(err)),
			zap.Error(err),
		)
		result.Subscriptions.Failed++
		e.recordSync(ctx, "subscription", failureOutcome(err))
		return nil
	}

	for _, sub := range subs {
		if err := e.subSvc.UpsertFromStripe(ctx, orgID, sub, fetchedAt); err != nil {
			if isSystemic(ctx, err) {
				return err
			}
			log.Error("subscription upsert failed",
				zap.String("stripe_subscription_id", sub.ID),
				zap.Error(err),
			)
			result.Subscriptions.Failed++
			e.recordSync(ctx, "subscription", failureOutcome(err))
			continue
		}
		result.Subscriptions.Succeeded++
		e.recordSync(ctx, "subscription", "succeeded")
	}

	if err := e.syncOrders(ctx, org, customerID, cfg, result); err != nil {
		return err
	}

	// The watermark bounds the next incremental invoice fetch. Advancing it
	// past a failed pass would put the missed window beyond the lookback
	// slack, so any failure leaves it where it was and the retry re-covers
	// the full range.
	if result.Subscriptions.Failed+result.Orders.Failed > failedBefore {
		log.Warn("sync had failed items, last_synced_at not advanced")
		return nil
	}

	if err := e.orgRepo.TouchLastSyncedAt(ctx, e.db, orgID, fetchedAt); err != nil {
		return err
	}
	return nil
}

// syncOrders applies paid credit-package invoices to the ledger. The ledger's
// (org_id, external_reference) uniqueness makes reapplying an already-seen
// invoice a harmless no-op.
func (e *Engine) syncOrders(ctx context.Context, org *orgdomain.Organization, customerID string, cfg config.SyncConfig, result *Result) error {
	var since time.Time
	if org.LastSyncedAt != nil {
		since = org.LastSyncedAt.Add(-time.Duration(cfg.LookbackSlack) * time.Second)
	}

	invoices, err := e.stripe.ListPaidInvoices(ctx, stripeclient.ListInvoicesRequest{
		CustomerID: customerID,
		Since:      since,
		PageSize:   cfg.PageSize,
	})
	if err != nil {
		if isSystemic(ctx, err) {
			return err
		}
		e.log.Error("stripe invoice listing failed",
			zap.String("org_id", org.ID.String()),
			zap.Bool("transient", stripeclient.IsTransient(err)),
			zap.Error(err),
		)
		result.Orders.Failed++
		e.recordSync(ctx, "order", failureOutcome(err))
		return nil
	}

	for _, invoice := range invoices {
		amount, ok := creditAmount(invoice, cfg.CreditsMetadataKey)
		if !ok {
			// Plain subscription invoice, not a credit package.
			continue
		}
		ref := invoice.ID
		_, err := e.ledgerSvc.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
			OrgID:             org.ID,
			Amount:            amount,
			Type:              ledgerdomain.TypePurchase,
			ExternalReference: &ref,
		})
		if err != nil {
			if isSystemic(ctx, err) {
				return err
			}
			e.log.Error("credit order apply failed",
				zap.String("org_id", org.ID.String()),
				zap.String("invoice_id", invoice.ID),
				zap.Error(err),
			)
			result.Orders.Failed++
			e.recordSync(ctx, "order", failureOutcome(err))
			continue
		}
		result.Orders.Succeeded++
		e.recordSync(ctx, "order", "succeeded")
	}
	return nil
}

// SyncFromEvent is the narrow, single-object path used by webhook deliveries.
// Redelivered events are harmless: subscription writes are guarded by the
// Stripe-side timestamp, ledger writes by the external reference.
func (e *Engine) SyncFromEvent(ctx context.Context, event stripeclient.Event) error {
	org, err := e.orgRepo.FindByStripeCustomerID(ctx, e.db, event.CustomerID)
	if err != nil {
		if errors.Is(err, orgdomain.ErrNotFound) {
			return ErrUnknownCustomer
		}
		return err
	}

	// Refused only while the org is being deleted. Surfacing the error makes
	// Stripe redeliver; once the delete lands, the retry resolves to an
	// unknown customer and is acknowledged.
	if !e.inflight.Acquire(org.ID) {
		return ErrDeleteInProgress
	}
	defer e.inflight.Release(org.ID)

	switch event.Type {
	case stripeclient.EventSubscriptionChanged:
		if event.Subscription == nil {
			return stripeclient.ErrInvalidEvent
		}
		// The event's creation time is the Stripe-side ordering key: an
		// out-of-order redelivery loses to any newer snapshot already stored.
		return e.subSvc.UpsertFromStripe(ctx, org.ID, event.Subscription, event.Created)

	case stripeclient.EventInvoicePaid:
		if event.Invoice == nil {
			return stripeclient.ErrInvalidEvent
		}
		cfg := e.configHold.Get()
		amount, ok := creditAmount(event.Invoice, cfg.CreditsMetadataKey)
		if !ok {
			return nil
		}
		ref := event.Invoice.ID
		_, err := e.ledgerSvc.AddCredits(ctx, ledgerdomain.AddCreditsRequest{
			OrgID:             org.ID,
			Amount:            amount,
			Type:              ledgerdomain.TypePurchase,
			ExternalReference: &ref,
		})
		if err == nil {
			e.recordSync(ctx, "order", "succeeded")
		}
		return err

	case stripeclient.EventCheckoutCompleted:
		// A completed checkout can create both a subscription and a credit
		// order; run the full per-organization reconciliation.
		result, err := e.SyncOrganizations(ctx, []snowflake.ID{org.ID})
		if err != nil {
			return err
		}
		if result.Subscriptions.Failed > 0 || result.Orders.Failed > 0 {
			e.log.Warn("checkout-triggered sync had failures",
				zap.String("org_id", org.ID.String()),
				zap.Int("subscriptions_failed", result.Subscriptions.Failed),
				zap.Int("orders_failed", result.Orders.Failed),
			)
		}
		return nil
	}
	return stripeclient.ErrEventIgnored
}

func (e *Engine) recordSync(ctx context.Context, entity, outcome string) {
	if e.obsMetrics != nil {
		e.obsMetrics.RecordSyncItem(ctx, entity, outcome)
	}
}

// creditAmount extracts the credit grant from an invoice's metadata. Returns
// false when the invoice is not a credit package.
func creditAmount(invoice *stripe.Invoice, metadataKey string) (int64, bool) {
	if invoice == nil || invoice.Metadata == nil {
		return 0, false
	}
	raw, ok := invoice.Metadata[metadataKey]
	if !ok {
		return 0, false
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || amount <= 0 {
		return 0, false
	}
	return amount, true
}

// failureOutcome labels a failed item for the sync metrics. Transient Stripe
// faults (rate limits, 5xx, timeouts) resolve on retry; anything else needs a
// human looking at it, so the two are counted apart.
func failureOutcome(err error) string {
	if stripeclient.IsTransient(err) {
		return "failed_transient"
	}
	return "failed"
}

// isSystemic reports whether the error means the whole batch should abort
// rather than be counted against one item.
func isSystemic(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
