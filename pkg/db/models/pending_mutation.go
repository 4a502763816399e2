package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// PendingMutation parks a proposed ledger write until its approval resolves.
type PendingMutation struct {
	ID                uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	ApprovalRequestID *uuid.UUID                  `gorm:"column:approval_request_id;type:uuid;index"`
	OperationType     string                      `gorm:"column:operation_type;not null"`
	Payload           json.RawMessage             `gorm:"column:payload;type:jsonb;not null"`
	Status            enums.PendingMutationStatus `gorm:"column:status;not null"`
	EntryID           *uuid.UUID                  `gorm:"column:entry_id;type:uuid"`
	FailureReason     *string                     `gorm:"column:failure_reason"`
	RequestedBy       string                      `gorm:"column:requested_by;not null"`
	RequesterRole     string                      `gorm:"column:requester_role"`
	CorrelationID     string                      `gorm:"column:correlation_id"`
	CreatedAt         time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}

func (PendingMutation) TableName() string { return "pending_ledger_mutations" }
