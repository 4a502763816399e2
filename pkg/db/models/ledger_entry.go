package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// LedgerEntry is an append-only movement on one stream. Amount is always
// positive; Type carries the direction.
type LedgerEntry struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	EntryNumber     string                `gorm:"column:entry_number;not null"`
	Stream          enums.LedgerStream    `gorm:"column:stream;not null;index:idx_ledger_entries_stream_occurred,priority:1"`
	Type            enums.LedgerEntryType `gorm:"column:type;not null"`
	Direction       enums.EntryDirection  `gorm:"column:direction;not null"`
	Amount          decimal.Decimal       `gorm:"column:amount;type:numeric(20,6);not null"`
	Currency        enums.Currency        `gorm:"column:currency;size:3;not null"`
	ExchangeRate    decimal.Decimal       `gorm:"column:exchange_rate;type:numeric(20,6);not null"`
	BaseAmount      decimal.Decimal       `gorm:"column:base_amount;type:numeric(20,6);not null"`
	Reference       *string               `gorm:"column:reference"`
	ReversesEntryID *uuid.UUID            `gorm:"column:reverses_entry_id;type:uuid;index"`
	Description     string                `gorm:"column:description"`
	Validated       bool                  `gorm:"column:validated;not null;default:false"`
	CreatedBy       string                `gorm:"column:created_by;not null"`
	CorrelationID   string                `gorm:"column:correlation_id;index"`
	OccurredAt      time.Time             `gorm:"column:occurred_at;not null;index:idx_ledger_entries_stream_occurred,priority:2"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt       gorm.DeletedAt        `gorm:"column:deleted_at;index"`

	Allocations []LedgerAllocation `gorm:"foreignKey:EntryID"`
}

// IsReferenced reports whether the entry is tied to a business operation.
func (e LedgerEntry) IsReferenced() bool {
	return e.Reference != nil && *e.Reference != ""
}

// SignedBaseAmount is the entry's effect on its stream balance in base currency.
func (e LedgerEntry) SignedBaseAmount() decimal.Decimal {
	if e.Direction == enums.DirectionOutflow {
		return e.BaseAmount.Neg()
	}
	return e.BaseAmount
}
