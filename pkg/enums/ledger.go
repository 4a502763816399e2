package enums

import "fmt"

// LedgerStream identifies which balance an entry belongs to.
type LedgerStream string

const (
	LedgerStreamCapital LedgerStream = "capital"
	LedgerStreamRevenue LedgerStream = "revenue"
)

var validLedgerStreams = []LedgerStream{
	LedgerStreamCapital,
	LedgerStreamRevenue,
}

// IsValid reports whether the value matches a known stream.
func (s LedgerStream) IsValid() bool {
	for _, candidate := range validLedgerStreams {
		if candidate == s {
			return true
		}
	}
	return false
}

// Other returns the opposite stream; used by reclassification.
func (s LedgerStream) Other() LedgerStream {
	if s == LedgerStreamCapital {
		return LedgerStreamRevenue
	}
	return LedgerStreamCapital
}

// ParseLedgerStream converts raw input into LedgerStream.
func ParseLedgerStream(value string) (LedgerStream, error) {
	for _, candidate := range validLedgerStreams {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger stream %q", value)
}

// LedgerEntryType encodes the direction of an entry. Amounts are always positive.
type LedgerEntryType string

const (
	LedgerEntryIn          LedgerEntryType = "in"
	LedgerEntryOut         LedgerEntryType = "out"
	LedgerEntryOpening     LedgerEntryType = "opening"
	LedgerEntryReceipt     LedgerEntryType = "receipt"
	LedgerEntryRefund      LedgerEntryType = "refund"
	LedgerEntryWithdrawal  LedgerEntryType = "withdrawal"
	LedgerEntryReinvestOut LedgerEntryType = "reinvest_out"
	LedgerEntryTransferFee LedgerEntryType = "transfer_fee"
	LedgerEntryReverse     LedgerEntryType = "reverse"
	LedgerEntryReclass     LedgerEntryType = "reclass"
)

var entryTypesByStream = map[LedgerStream][]LedgerEntryType{
	LedgerStreamCapital: {
		LedgerEntryIn,
		LedgerEntryOut,
		LedgerEntryOpening,
		LedgerEntryReverse,
		LedgerEntryReclass,
	},
	LedgerStreamRevenue: {
		LedgerEntryReceipt,
		LedgerEntryRefund,
		LedgerEntryWithdrawal,
		LedgerEntryReinvestOut,
		LedgerEntryTransferFee,
		LedgerEntryReverse,
		LedgerEntryReclass,
	},
}

// AllowedIn reports whether the type may be recorded against the stream.
func (t LedgerEntryType) AllowedIn(stream LedgerStream) bool {
	for _, candidate := range entryTypesByStream[stream] {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsValid reports whether the type belongs to any stream.
func (t LedgerEntryType) IsValid() bool {
	return t.AllowedIn(LedgerStreamCapital) || t.AllowedIn(LedgerStreamRevenue)
}

// IsInflow reports the fixed direction of plain types. Corrective types
// (reverse, reclass) derive their sign from the entry they correct.
func (t LedgerEntryType) IsInflow() bool {
	switch t {
	case LedgerEntryIn, LedgerEntryOpening, LedgerEntryReceipt:
		return true
	}
	return false
}

// IsCorrective reports types that must reference an original entry.
func (t LedgerEntryType) IsCorrective() bool {
	return t == LedgerEntryReverse || t == LedgerEntryReclass
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	t := LedgerEntryType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid ledger entry type %q", value)
	}
	return t, nil
}

// EntryDirection is the signed effect an entry has on its stream's balance.
type EntryDirection string

const (
	DirectionInflow  EntryDirection = "inflow"
	DirectionOutflow EntryDirection = "outflow"
)

// Opposite flips the direction.
func (d EntryDirection) Opposite() EntryDirection {
	if d == DirectionInflow {
		return DirectionOutflow
	}
	return DirectionInflow
}

// PendingMutationStatus tracks a ledger mutation parked behind an approval.
type PendingMutationStatus string

const (
	PendingMutationAwaiting  PendingMutationStatus = "awaiting_approval"
	PendingMutationApplied   PendingMutationStatus = "applied"
	PendingMutationDiscarded PendingMutationStatus = "discarded"
	PendingMutationFailed    PendingMutationStatus = "failed"
)
