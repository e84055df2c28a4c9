package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/subscription/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Upsert(ctx context.Context, db *gorm.DB, row *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, org_id, stripe_subscription_id, status, plan_price_id,
			billing_interval, cancel_at_period_end, trial_end, current_period_end,
			stripe_synced_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			status = excluded.status,
			plan_price_id = excluded.plan_price_id,
			billing_interval = excluded.billing_interval,
			cancel_at_period_end = excluded.cancel_at_period_end,
			trial_end = excluded.trial_end,
			current_period_end = excluded.current_period_end,
			stripe_synced_at = excluded.stripe_synced_at,
			updated_at = excluded.updated_at
		WHERE subscriptions.stripe_synced_at <= excluded.stripe_synced_at`,
		row.ID,
		row.OrgID,
		row.StripeSubscriptionID,
		string(row.Status),
		row.PlanPriceID,
		string(row.BillingInterval),
		row.CancelAtPeriodEnd,
		row.TrialEnd,
		row.CurrentPeriodEnd,
		row.StripeSyncedAt,
		row.CreatedAt,
		row.UpdatedAt,
	).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var row domain.Subscription
	err := db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*domain.Subscription, error) {
	var row domain.Subscription
	err := db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) ListItems(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.SubscriptionItem, error) {
	var items []domain.SubscriptionItem
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ApplyItemsDiff(ctx context.Context, db *gorm.DB, diff domain.ItemsDiff) error {
	for _, item := range diff.Insert {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO subscription_items (
				id, org_id, subscription_id, stripe_item_id, price_id, quantity,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (stripe_item_id) DO NOTHING`,
			item.ID,
			item.OrgID,
			item.SubscriptionID,
			item.StripeItemID,
			item.PriceID,
			item.Quantity,
			item.CreatedAt,
			item.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}
	for _, item := range diff.Update {
		if err := db.WithContext(ctx).Exec(
			`UPDATE subscription_items SET price_id = ?, quantity = ?, updated_at = ?
			 WHERE id = ?`,
			item.PriceID,
			item.Quantity,
			item.UpdatedAt,
			item.ID,
		).Error; err != nil {
			return err
		}
	}
	if len(diff.Delete) > 0 {
		if err := db.WithContext(ctx).Exec(
			`DELETE FROM subscription_items WHERE id IN ?`, diff.Delete,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) LatestByOrg(ctx context.Context, db *gorm.DB, orgIDs []snowflake.ID) (map[snowflake.ID]*domain.Subscription, error) {
	result := make(map[snowflake.ID]*domain.Subscription, len(orgIDs))
	if len(orgIDs) == 0 {
		return result, nil
	}

	var rows []domain.Subscription
	err := db.WithContext(ctx).
		Where("org_id IN ?", orgIDs).
		Order("stripe_synced_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	for i := range rows {
		row := rows[i]
		if _, ok := result[row.OrgID]; ok {
			continue
		}
		result[row.OrgID] = &row
	}
	return result, nil
}
