package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/ledgergate-backend/pkg/db/types"
)

// ApprovalGuard holds per-operation overrides consulted before chain resolution.
type ApprovalGuard struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OperationType          string              `gorm:"column:operation_type;not null;uniqueIndex"`
	ApprovalMandatory      bool                `gorm:"column:approval_mandatory;not null;default:false"`
	BlockIfNoApprover      bool                `gorm:"column:block_if_no_approver;not null;default:false"`
	EmergencyOverrideRoles dbtypes.StringArray `gorm:"column:emergency_override_roles;type:text;not null"`
	AuditAllAttempts       bool                `gorm:"column:audit_all_attempts;not null;default:false"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
