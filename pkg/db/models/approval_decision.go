package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// ApprovalDecision is one ordered entry in a request's approval history.
type ApprovalDecision struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	RequestID uuid.UUID              `gorm:"column:request_id;type:uuid;not null;index"`
	ActorID   string                 `gorm:"column:actor_id;not null"`
	ActorRole string                 `gorm:"column:actor_role"`
	Decision  enums.ApprovalDecision `gorm:"column:decision;not null"`
	Kind      enums.DecisionKind     `gorm:"column:kind;not null"`
	Comment   string                 `gorm:"column:comment"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
