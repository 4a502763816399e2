package audit

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ContextKind tags which BusinessContext variant is populated.
type ContextKind string

const (
	ContextLedger   ContextKind = "ledger"
	ContextApproval ContextKind = "approval"
	ContextPolicy   ContextKind = "policy"
	ContextSettings ContextKind = "settings"
)

// LedgerContext describes the ledger movement behind an audit entry.
type LedgerContext struct {
	Stream       string           `json:"stream"`
	EntryType    string           `json:"entry_type"`
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	ExchangeRate decimal.Decimal  `json:"exchange_rate"`
	BaseAmount   decimal.Decimal  `json:"base_amount"`
	Reference    *string          `json:"reference,omitempty"`
	BalanceAfter *decimal.Decimal `json:"balance_after,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// ApprovalContext describes an approval lifecycle step.
type ApprovalContext struct {
	OperationType     string `json:"operation_type"`
	RequestNumber     string `json:"request_number,omitempty"`
	ChainID           string `json:"chain_id,omitempty"`
	Decision          string `json:"decision,omitempty"`
	DecisionKind      string `json:"decision_kind,omitempty"`
	RequiredApprovals int    `json:"required_approvals"`
	CurrentApprovals  int    `json:"current_approvals"`
	Comment           string `json:"comment,omitempty"`
}

// PolicyContext describes an approval policy change.
type PolicyContext struct {
	OperationType string `json:"operation_type"`
	ChainName     string `json:"chain_name,omitempty"`
}

// SettingsContext describes a settings write.
type SettingsContext struct {
	Key      string `json:"key"`
	Category string `json:"category"`
}

// BusinessContext is a tagged union; exactly one variant matches Kind.
type BusinessContext struct {
	Kind     ContextKind      `json:"kind"`
	Ledger   *LedgerContext   `json:"ledger,omitempty"`
	Approval *ApprovalContext `json:"approval,omitempty"`
	Policy   *PolicyContext   `json:"policy,omitempty"`
	Settings *SettingsContext `json:"settings,omitempty"`
}

func LedgerBusiness(c LedgerContext) BusinessContext {
	return BusinessContext{Kind: ContextLedger, Ledger: &c}
}

func ApprovalBusiness(c ApprovalContext) BusinessContext {
	return BusinessContext{Kind: ContextApproval, Approval: &c}
}

func PolicyBusiness(c PolicyContext) BusinessContext {
	return BusinessContext{Kind: ContextPolicy, Policy: &c}
}

func SettingsBusiness(c SettingsContext) BusinessContext {
	return BusinessContext{Kind: ContextSettings, Settings: &c}
}

func (b BusinessContext) validate() error {
	populated := 0
	for _, set := range []bool{b.Ledger != nil, b.Approval != nil, b.Policy != nil, b.Settings != nil} {
		if set {
			populated++
		}
	}
	if populated != 1 {
		return fmt.Errorf("business context must carry exactly one variant, got %d", populated)
	}
	var ok bool
	switch b.Kind {
	case ContextLedger:
		ok = b.Ledger != nil
	case ContextApproval:
		ok = b.Approval != nil
	case ContextPolicy:
		ok = b.Policy != nil
	case ContextSettings:
		ok = b.Settings != nil
	}
	if !ok {
		return fmt.Errorf("business context kind %q does not match its payload", b.Kind)
	}
	return nil
}
