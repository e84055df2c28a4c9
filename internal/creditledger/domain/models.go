// Package domain contains persistence models for the prepaid credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType classifies a credit transaction.
type TransactionType string

const (
	TypePurchase         TransactionType = "purchase"
	TypeManualAdjustment TransactionType = "manual_adjustment"
	TypeConsumption      TransactionType = "consumption"
	TypeRefund           TransactionType = "refund"
	TypePromotional      TransactionType = "promotional"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypePurchase, TypeManualAdjustment, TypeConsumption, TypeRefund, TypePromotional:
		return true
	default:
		return false
	}
}

// CreditTransaction is one immutable ledger line. Amount is signed: positive
// grants credits, negative consumes them. Corrections are new transactions,
// never edits.
//
// (org_id, external_reference) is unique when external_reference is set; it is
// the idempotency key that keeps a replayed Stripe order from crediting twice.
type CreditTransaction struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	OrgID             snowflake.ID    `gorm:"not null;index;uniqueIndex:ux_credit_tx_org_ref,priority:1"`
	Amount            int64           `gorm:"not null"`
	Type              TransactionType `gorm:"type:text;not null"`
	ExternalReference *string         `gorm:"type:text;uniqueIndex:ux_credit_tx_org_ref,priority:2"`
	Description       *string         `gorm:"type:text"`
	CreatedBy         *snowflake.ID   `gorm:""`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
