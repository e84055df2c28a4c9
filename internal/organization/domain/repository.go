package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows and orders the organization listing.
type ListFilter struct {
	// Search matches name or slug, case-insensitive substring.
	Search string
	// SortBy is one of name, created_at. Empty means created_at.
	SortBy string
	// Descending flips the sort order.
	Descending bool
	Limit      int
	Offset     int
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Organization, int64, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Organization, error)
	FindByStripeCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Organization, error)
	// Delete removes the organization and its dependent rows (subscriptions,
	// items, ledger, invites, audit trail) in the caller's transaction.
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// TouchLastSyncedAt advances last_synced_at, never moves it backwards.
	TouchLastSyncedAt(ctx context.Context, db *gorm.DB, id snowflake.ID, syncedAt time.Time) error
	// PendingInvitesByOrg counts pending invites for a set of organizations.
	PendingInvitesByOrg(ctx context.Context, db *gorm.DB, orgIDs []snowflake.ID) (map[snowflake.ID]int64, error)
}
