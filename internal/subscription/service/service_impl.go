package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	"github.com/smallbiznis/backoffice/internal/clock"
	obsmetrics "github.com/smallbiznis/backoffice/internal/observability/metrics"
	"github.com/smallbiznis/backoffice/internal/stripeclient"
	"github.com/smallbiznis/backoffice/internal/subscription/domain"
	"github.com/smallbiznis/backoffice/internal/subscription/mapper"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Stripe     stripeclient.Client
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	stripe     stripeclient.Client
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("subscription.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		stripe:     p.Stripe,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	if id == 0 {
		return nil, domain.ErrInvalidSubscription
	}
	return s.repo.FindByID(ctx, s.db, id)
}

// Cancel issues the cancellation to Stripe first. The local row only changes
// when Stripe confirms, and then only from Stripe's response, so a failed
// call can never leave the cache ahead of Stripe.
func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (domain.CancelResponse, error) {
	row, err := s.GetByID(ctx, req.SubscriptionID)
	if err != nil {
		return domain.CancelResponse{}, err
	}

	updated, err := s.stripe.CancelSubscription(ctx, row.StripeSubscriptionID, req.Immediate)
	if err != nil {
		if stripeclient.IsNotFound(err) {
			// Stripe no longer knows the subscription. The next sync will
			// reconcile the local row; surface not-found to the caller.
			return domain.CancelResponse{}, domain.ErrNotFound
		}
		s.log.Error("stripe cancel failed",
			zap.String("stripe_subscription_id", row.StripeSubscriptionID),
			zap.Bool("immediate", req.Immediate),
			zap.Error(err),
		)
		return domain.CancelResponse{}, err
	}

	if err := s.UpsertFromStripe(ctx, row.OrgID, updated, s.clock.Now()); err != nil {
		return domain.CancelResponse{}, err
	}

	subIDStr := row.ID.String()
	actorType := auditdomain.ActorTypeSystem
	var actorID *string
	if req.RequestedBy != nil {
		actorType = auditdomain.ActorTypeAdmin
		v := req.RequestedBy.String()
		actorID = &v
	}
	action := "subscription.cancel_scheduled"
	if req.Immediate {
		action = "subscription.canceled"
	}
	if err := s.auditSvc.AuditLog(ctx, nil, row.OrgID, actorType, actorID, action, "subscription", &subIDStr, map[string]any{
		"stripe_subscription_id": row.StripeSubscriptionID,
		"immediate":              req.Immediate,
	}); err != nil {
		s.log.Warn("failed to write cancel audit log", zap.Error(err))
	}

	mapped := mapper.FromStripe(updated)
	return domain.CancelResponse{
		Status:            mapped.Status,
		CancelAtPeriodEnd: mapped.CancelAtPeriodEnd,
		Immediate:         req.Immediate,
	}, nil
}

// UpsertFromStripe reconciles one Stripe subscription into the local cache.
// The row and its items change in a single transaction. When the incoming
// snapshot is older than the stored one the whole write is a no-op.
func (s *Service) UpsertFromStripe(ctx context.Context, orgID snowflake.ID, sub *stripe.Subscription, syncedAt time.Time) error {
	if sub == nil || sub.ID == "" {
		return domain.ErrInvalidSubscription
	}
	if orgID == 0 {
		return domain.ErrInvalidSubscription
	}

	now := s.clock.Now()
	row := mapper.FromStripe(sub)
	row.OrgID = orgID
	row.StripeSyncedAt = syncedAt.UTC()
	row.UpdatedAt = now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByStripeID(ctx, tx, row.StripeSubscriptionID)
		switch {
		case err == nil:
			if existing.StripeSyncedAt.After(row.StripeSyncedAt) {
				// Stale snapshot, a newer write already landed.
				s.log.Debug("discarding stale subscription snapshot",
					zap.String("stripe_subscription_id", row.StripeSubscriptionID),
					zap.Time("stored_synced_at", existing.StripeSyncedAt),
					zap.Time("incoming_synced_at", row.StripeSyncedAt),
				)
				return nil
			}
			row.ID = existing.ID
			row.CreatedAt = existing.CreatedAt
		case errors.Is(err, domain.ErrNotFound):
			row.ID = s.genID.Generate()
			row.CreatedAt = now
		default:
			return err
		}

		if err := s.repo.Upsert(ctx, tx, &row); err != nil {
			return err
		}

		currentItems, err := s.repo.ListItems(ctx, tx, row.ID)
		if err != nil {
			return err
		}
		diff := mapper.DiffItems(orgID, row.ID, currentItems, mapper.ItemsFromStripe(sub), s.genID.Generate, now)
		if diff.Empty() {
			return nil
		}
		return s.repo.ApplyItemsDiff(ctx, tx, diff)
	})
}
