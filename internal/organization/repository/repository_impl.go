package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/organization/domain"
	"gorm.io/gorm"
)

type repository struct{}

func NewRepository() domain.Repository {
	return &repository{}
}

func (r *repository) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Organization, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Organization{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		stmt = stmt.Where("LOWER(name) LIKE ? OR LOWER(slug) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := stmt.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column := "created_at"
	if filter.SortBy == "name" {
		column = "name"
	}
	direction := "asc"
	if filter.Descending {
		direction = "desc"
	}
	stmt = stmt.Order(column + " " + direction + ", id asc")

	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}

	var orgs []domain.Organization
	if err := stmt.Find(&orgs).Error; err != nil {
		return nil, 0, err
	}
	return orgs, total, nil
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) FindByStripeCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Organization, error) {
	var org domain.Organization
	err := db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&org).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (r *repository) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	statements := []string{
		`DELETE FROM subscription_items WHERE org_id = ?`,
		`DELETE FROM subscriptions WHERE org_id = ?`,
		`DELETE FROM credit_transactions WHERE org_id = ?`,
		`DELETE FROM organization_invites WHERE org_id = ?`,
		`DELETE FROM audit_logs WHERE org_id = ?`,
		`DELETE FROM organizations WHERE id = ?`,
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt, id).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) TouchLastSyncedAt(ctx context.Context, db *gorm.DB, id snowflake.ID, syncedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE organizations SET last_synced_at = ?, updated_at = ?
		 WHERE id = ? AND (last_synced_at IS NULL OR last_synced_at < ?)`,
		syncedAt, syncedAt, id, syncedAt,
	).Error
}

func (r *repository) PendingInvitesByOrg(ctx context.Context, db *gorm.DB, orgIDs []snowflake.ID) (map[snowflake.ID]int64, error) {
	counts := make(map[snowflake.ID]int64, len(orgIDs))
	if len(orgIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		OrgID snowflake.ID
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT org_id, COUNT(*) AS count FROM organization_invites
		 WHERE org_id IN ? AND status = ? GROUP BY org_id`,
		orgIDs, domain.InviteStatusPending,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.OrgID] = row.Count
	}
	return counts, nil
}
