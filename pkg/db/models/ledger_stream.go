package models

import (
	"time"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// LedgerStreamLock is the per-stream row every balance-gated write locks first.
type LedgerStreamLock struct {
	Stream    enums.LedgerStream `gorm:"column:stream;primaryKey;size:16"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerStreamLock) TableName() string { return "ledger_streams" }
