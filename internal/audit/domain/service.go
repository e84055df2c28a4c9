package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// AuditLog appends one audit entry. A non-nil db lets the caller run the
	// write inside its own transaction so the entry commits and rolls back
	// with the action it records; nil falls back to the service connection.
	AuditLog(ctx context.Context, db *gorm.DB, orgID snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
}

var (
	ErrInvalidAction = errors.New("invalid_action")
)
