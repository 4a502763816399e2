package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledgergate-backend/pkg/enums"
)

// LedgerEntryRecordedEvent is emitted once an entry commits.
type LedgerEntryRecordedEvent struct {
	EntryID      uuid.UUID             `json:"entry_id"`
	EntryNumber  string                `json:"entry_number"`
	Stream       enums.LedgerStream    `json:"stream"`
	Type         enums.LedgerEntryType `json:"type"`
	Direction    enums.EntryDirection  `json:"direction"`
	Amount       decimal.Decimal       `json:"amount"`
	Currency     enums.Currency        `json:"currency"`
	ExchangeRate decimal.Decimal       `json:"exchange_rate"`
	BaseAmount   decimal.Decimal       `json:"base_amount"`
	Reference    *string               `json:"reference,omitempty"`
	OccurredAt   time.Time             `json:"occurred_at"`
}

// ApprovalResolvedEvent is emitted when a request reaches a terminal status.
type ApprovalResolvedEvent struct {
	RequestID     uuid.UUID            `json:"request_id"`
	RequestNumber string               `json:"request_number"`
	OperationType string               `json:"operation_type"`
	EntityType    string               `json:"entity_type"`
	EntityID      string               `json:"entity_id"`
	Status        enums.ApprovalStatus `json:"status"`
	Kind          enums.DecisionKind   `json:"kind"`
	ResolvedBy    string               `json:"resolved_by,omitempty"`
	ResolvedAt    time.Time            `json:"resolved_at"`
}

// AlertRaisedEvent carries an operator alert to the notification channel.
type AlertRaisedEvent struct {
	Category   enums.AlertCategory `json:"category"`
	Severity   enums.AlertSeverity `json:"severity"`
	Message    string              `json:"message"`
	EntityType string              `json:"entity_type,omitempty"`
	EntityID   string              `json:"entity_id,omitempty"`
	RaisedAt   time.Time           `json:"raised_at"`
}
