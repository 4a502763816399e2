package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/angelmondragon/ledgergate-backend/pkg/db/types"
)

// ApprovalChain is a policy describing who must authorize an operation type.
type ApprovalChain struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OperationType         string               `gorm:"column:operation_type;not null;index"`
	Name                  string               `gorm:"column:name;not null"`
	Priority              int                  `gorm:"column:priority;not null;default:0"`
	Active                bool                 `gorm:"column:active;not null"`
	MinApprovers          int                  `gorm:"column:min_approvers;not null"`
	RequireAllApprovers   bool                 `gorm:"column:require_all_approvers;not null;default:false"`
	AmountThreshold       *decimal.Decimal     `gorm:"column:amount_threshold;type:numeric(20,6)"`
	RequesterRoles        dbtypes.StringArray  `gorm:"column:requester_roles;type:text;not null"`
	ExemptRoles           dbtypes.StringArray  `gorm:"column:exempt_roles;type:text;not null"`
	ApproverRoles         dbtypes.StringArray  `gorm:"column:approver_roles;type:text;not null"`
	AutoApproveAfterHours *int                 `gorm:"column:auto_approve_after_hours"`
	EscalateAfterHours    *int                 `gorm:"column:escalate_after_hours"`
	EscalationChainID     *uuid.UUID           `gorm:"column:escalation_chain_id;type:uuid"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
