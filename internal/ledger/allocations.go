package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/ledgergate-backend/pkg/errors"
)

// AllocationTolerance is the largest gap allowed between an entry and the sum of its allocations.
var AllocationTolerance = decimal.RequireFromString("0.01")

// AllocationInput splits part of an entry onto a business target.
type AllocationInput struct {
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Amount     decimal.Decimal `json:"amount"`
}

// ValidateLinkedAmounts checks that allocations add up to amount within
// AllocationTolerance. Nothing is rounded or adjusted here.
func ValidateLinkedAmounts(amount decimal.Decimal, allocations []AllocationInput) error {
	if len(allocations) == 0 {
		return nil
	}
	allocated := decimal.Zero
	for i, alloc := range allocations {
		if strings.TrimSpace(alloc.TargetType) == "" || strings.TrimSpace(alloc.TargetID) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "allocation target required").
				WithDetails(map[string]any{"index": i})
		}
		if !alloc.Amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "allocation amount must be positive").
				WithDetails(map[string]any{"index": i, "amount": alloc.Amount.String()})
		}
		allocated = allocated.Add(alloc.Amount)
	}
	diff := amount.Sub(allocated)
	if diff.Abs().GreaterThan(AllocationTolerance) {
		return pkgerrors.New(pkgerrors.CodeAllocationMismatch, "allocations do not sum to the entry amount").
			WithDetails(map[string]any{
				"entry_amount": amount.String(),
				"allocated":    allocated.String(),
				"difference":   diff.String(),
				"tolerance":    AllocationTolerance.String(),
			})
	}
	return nil
}
