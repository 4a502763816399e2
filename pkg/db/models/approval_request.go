package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// ApprovalRequest is one authorization attempt for a gated operation.
type ApprovalRequest struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	RequestNumber     string               `gorm:"column:request_number;not null"`
	OperationType     string               `gorm:"column:operation_type;not null"`
	ChainID           uuid.UUID            `gorm:"column:chain_id;type:uuid;not null"`
	EntityType        string               `gorm:"column:entity_type;not null"`
	EntityID          string               `gorm:"column:entity_id;not null"`
	Amount            decimal.Decimal      `gorm:"column:amount;type:numeric(20,6);not null"`
	Currency          enums.Currency       `gorm:"column:currency;size:3;not null"`
	Justification     string               `gorm:"column:justification"`
	Status            enums.ApprovalStatus `gorm:"column:status;not null;index"`
	RequiredApprovals int                  `gorm:"column:required_approvals;not null"`
	CurrentApprovals  int                  `gorm:"column:current_approvals;not null;default:0"`
	RequestedBy       string               `gorm:"column:requested_by;not null"`
	RequesterRole     string               `gorm:"column:requester_role;not null"`
	FinalApprover     *string              `gorm:"column:final_approver"`
	FinalRejecter     *string              `gorm:"column:final_rejecter"`
	RequestedAt       time.Time            `gorm:"column:requested_at;not null"`
	ApprovedAt        *time.Time           `gorm:"column:approved_at"`
	RejectedAt        *time.Time           `gorm:"column:rejected_at"`
	EscalatedAt       *time.Time           `gorm:"column:escalated_at"`
	CancelledAt       *time.Time           `gorm:"column:cancelled_at"`
	AutoApproveAt     *time.Time           `gorm:"column:auto_approve_at;index"`
	EscalateAt        *time.Time           `gorm:"column:escalate_at;index"`
	CorrelationID     string               `gorm:"column:correlation_id"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// RemainingApprovals never goes below zero.
func (r ApprovalRequest) RemainingApprovals() int {
	if remaining := r.RequiredApprovals - r.CurrentApprovals; remaining > 0 {
		return remaining
	}
	return 0
}
