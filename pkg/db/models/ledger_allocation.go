package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerAllocation splits one entry across business targets (orders, shipments).
type LedgerAllocation struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	EntryID    uuid.UUID       `gorm:"column:entry_id;type:uuid;not null;index"`
	TargetType string          `gorm:"column:target_type;not null"`
	TargetID   string          `gorm:"column:target_id;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric(20,6);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
