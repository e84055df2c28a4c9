package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/backoffice/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/backoffice/internal/creditledger/domain"
	obsmetrics "github.com/smallbiznis/backoffice/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/backoffice/pkg/db"
	"github.com/smallbiznis/backoffice/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("creditledger.service"),
		genID:      p.GenID,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) AddCredits(ctx context.Context, req ledgerdomain.AddCreditsRequest) (ledgerdomain.AddCreditsResult, error) {
	if req.OrgID == 0 {
		return ledgerdomain.AddCreditsResult{}, ledgerdomain.ErrInvalidOrganization
	}
	if req.Amount == 0 {
		return ledgerdomain.AddCreditsResult{}, ledgerdomain.ErrInvalidAmount
	}
	if !req.Type.Valid() {
		return ledgerdomain.AddCreditsResult{}, ledgerdomain.ErrInvalidType
	}

	ref := normalizeReference(req.ExternalReference)

	tx := ledgerdomain.CreditTransaction{
		ID:                s.genID.Generate(),
		OrgID:             req.OrgID,
		Amount:            req.Amount,
		Type:              req.Type,
		ExternalReference: ref,
		Description:       req.Description,
		CreatedBy:         req.CreatedBy,
		CreatedAt:         time.Now().UTC(),
	}

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		result := dbtx.WithContext(ctx).Exec(
			`INSERT INTO credit_transactions (
				id, org_id, amount, type, external_reference, description, created_by, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (org_id, external_reference) DO NOTHING`,
			tx.ID,
			tx.OrgID,
			tx.Amount,
			string(tx.Type),
			tx.ExternalReference,
			tx.Description,
			tx.CreatedBy,
			tx.CreatedAt,
		)
		if result.Error != nil {
			// A dialect that rejects the ON CONFLICT target still raises the
			// unique violation itself; that is the same outcome.
			if pkgdb.IsDuplicateKeyErr(result.Error) {
				return nil
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			// The reference was already applied. Retried syncs and webhook
			// redelivery land here; they must observe success.
			return nil
		}
		inserted = true

		txIDStr := tx.ID.String()
		metadata := map[string]any{
			"amount": tx.Amount,
			"type":   string(tx.Type),
		}
		if tx.ExternalReference != nil {
			metadata["external_reference"] = *tx.ExternalReference
		}
		actorType := auditdomain.ActorTypeSystem
		var actorID *string
		if tx.CreatedBy != nil {
			actorType = auditdomain.ActorTypeAdmin
			v := tx.CreatedBy.String()
			actorID = &v
		}
		// Same transaction as the ledger insert: the audit row must not
		// survive a rolled-back posting.
		if err := s.auditSvc.AuditLog(ctx, dbtx, tx.OrgID, actorType, actorID, "credit.transaction_created", "credit_transaction", &txIDStr, metadata); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.AddCreditsResult{}, err
	}

	if !inserted {
		existing, err := s.findByReference(ctx, req.OrgID, *ref)
		if err != nil {
			return ledgerdomain.AddCreditsResult{}, err
		}
		return ledgerdomain.AddCreditsResult{Transaction: *existing, AlreadyApplied: true}, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordCreditTransaction(ctx, string(tx.Type))
	}
	return ledgerdomain.AddCreditsResult{Transaction: tx}, nil
}

func (s *Service) GetBalance(ctx context.Context, orgID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, ledgerdomain.ErrInvalidOrganization
	}

	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE org_id = ?`,
		orgID,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) BalanceByOrg(ctx context.Context, orgIDs []snowflake.ID) (map[snowflake.ID]int64, error) {
	balances := make(map[snowflake.ID]int64, len(orgIDs))
	if len(orgIDs) == 0 {
		return balances, nil
	}

	var rows []struct {
		OrgID   snowflake.ID
		Balance int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT org_id, COALESCE(SUM(amount), 0) AS balance
		 FROM credit_transactions WHERE org_id IN ? GROUP BY org_id`,
		orgIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		balances[row.OrgID] = row.Balance
	}
	return balances, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	if req.OrgID == 0 {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidOrganization
	}

	limit := req.PageSize
	if limit <= 0 {
		limit = 25
	}

	stmt := s.db.WithContext(ctx).Model(&ledgerdomain.CreditTransaction{}).
		Where("org_id = ?", req.OrgID)

	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		stmt = stmt.Where("id < ?", cursorID)
	}

	var transactions []ledgerdomain.CreditTransaction
	if err := stmt.Order("id desc").Limit(limit + 1).Find(&transactions).Error; err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	resp := ledgerdomain.ListTransactionsResponse{Transactions: transactions}
	resp.Total = total
	if len(transactions) > limit {
		resp.Transactions = transactions[:limit]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: resp.Transactions[limit-1].ID.String()})
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, err
		}
		resp.NextPageToken = token
	}
	return resp, nil
}

func (s *Service) findByReference(ctx context.Context, orgID snowflake.ID, ref string) (*ledgerdomain.CreditTransaction, error) {
	var existing ledgerdomain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND external_reference = ?", orgID, ref).
		First(&existing).Error
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

func normalizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
