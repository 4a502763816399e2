package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// AuditLog is an insert-only, checksummed record of a state change. The state
// columns are json (not jsonb) so the stored text matches what was checksummed.
type AuditLog struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Action          enums.AuditAction `gorm:"column:action;not null"`
	EntityType      string            `gorm:"column:entity_type;not null;index:idx_audit_logs_entity,priority:1"`
	EntityID        string            `gorm:"column:entity_id;not null;index:idx_audit_logs_entity,priority:2"`
	ActorID         string            `gorm:"column:actor_id;not null"`
	ActorRole       string            `gorm:"column:actor_role"`
	BeforeState     json.RawMessage   `gorm:"column:before_state;type:json"`
	AfterState      json.RawMessage   `gorm:"column:after_state;type:json"`
	BusinessContext json.RawMessage   `gorm:"column:business_context;type:json"`
	RiskLevel       enums.RiskLevel   `gorm:"column:risk_level;not null"`
	CorrelationID   string            `gorm:"column:correlation_id;not null;index"`
	Checksum        string            `gorm:"column:checksum;not null"`
	CreatedAt       time.Time         `gorm:"column:created_at;not null"`
}
