package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/backoffice/internal/creditledger/domain"
	"github.com/smallbiznis/backoffice/internal/organization/domain"
	"github.com/smallbiznis/backoffice/internal/sync/inflight"
	subscriptiondomain "github.com/smallbiznis/backoffice/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	SubRepo   subscriptiondomain.Repository
	LedgerSvc ledgerdomain.Service
	AuditSvc  auditdomain.Service
	Inflight  *inflight.Tracker
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	subRepo   subscriptiondomain.Repository
	ledgerSvc ledgerdomain.Service
	auditSvc  auditdomain.Service
	inflight  *inflight.Tracker
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("organization.service"),
		repo:      p.Repo,
		subRepo:   p.SubRepo,
		ledgerSvc: p.LedgerSvc,
		auditSvc:  p.AuditSvc,
		inflight:  p.Inflight,
	}
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := req.Page
	if page < 1 {
		page = 1
	}

	orgs, total, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Search:     req.Search,
		SortBy:     req.SortBy,
		Descending: req.Descending,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	orgIDs := make([]snowflake.ID, 0, len(orgs))
	for _, org := range orgs {
		orgIDs = append(orgIDs, org.ID)
	}

	latest, err := s.subRepo.LatestByOrg(ctx, s.db, orgIDs)
	if err != nil {
		return domain.ListResponse{}, err
	}
	balances, err := s.ledgerSvc.BalanceByOrg(ctx, orgIDs)
	if err != nil {
		return domain.ListResponse{}, err
	}
	invites, err := s.repo.PendingInvitesByOrg(ctx, s.db, orgIDs)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items := make([]domain.ListItem, 0, len(orgs))
	for _, org := range orgs {
		item := domain.ListItem{
			ID:             org.ID,
			Name:           org.Name,
			Slug:           org.Slug,
			LogoURL:        org.LogoURL,
			HasStripe:      org.StripeCustomerID != nil,
			CreditBalance:  balances[org.ID],
			PendingInvites: invites[org.ID],
			LastSyncedAt:   org.LastSyncedAt,
			CreatedAt:      org.CreatedAt,
		}
		if sub, ok := latest[org.ID]; ok {
			item.Subscription = &domain.SubscriptionSummary{
				ID:                sub.ID,
				Status:            sub.Status,
				PlanPriceID:       sub.PlanPriceID,
				BillingInterval:   sub.BillingInterval,
				CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
				TrialEnd:          sub.TrialEnd,
				CurrentPeriodEnd:  sub.CurrentPeriodEnd,
			}
		}
		items = append(items, item)
	}

	return domain.ListResponse{Organizations: items, Total: total}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	if id == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID, requestedBy *snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidOrganization
	}
	if !s.inflight.BeginDelete(id) {
		return domain.ErrSyncInProgress
	}
	defer s.inflight.EndDelete(id)

	org, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	orgIDStr := id.String()
	actorType := auditdomain.ActorTypeSystem
	var actorID *string
	if requestedBy != nil {
		actorType = auditdomain.ActorTypeAdmin
		v := requestedBy.String()
		actorID = &v
	}
	if err := s.auditSvc.AuditLog(ctx, nil, id, actorType, actorID, "organization.deleted", "organization", &orgIDStr, map[string]any{
		"name": org.Name,
	}); err != nil {
		s.log.Warn("failed to write delete audit log", zap.Error(err))
	}

	s.log.Info("organization deleted",
		zap.String("org_id", orgIDStr),
		zap.String("name", org.Name),
	)
	return nil
}
