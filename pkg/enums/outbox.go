package enums

import "fmt"

// OutboxAggregateType maps to outbox_events.aggregate_type.
type OutboxAggregateType string

const (
	AggregateLedgerEntry     OutboxAggregateType = "ledger_entry"
	AggregateApprovalRequest OutboxAggregateType = "approval_request"
	AggregateAlert           OutboxAggregateType = "alert"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateLedgerEntry,
	AggregateApprovalRequest,
	AggregateAlert,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to outbox_events.event_type.
type OutboxEventType string

const (
	EventLedgerEntryRecorded OutboxEventType = "ledger.entry_recorded"
	EventApprovalResolved    OutboxEventType = "approval.resolved"
	EventAlertRaised         OutboxEventType = "alert.raised"
)

var validOutboxEventTypes = []OutboxEventType{
	EventLedgerEntryRecorded,
	EventApprovalResolved,
	EventAlertRaised,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
