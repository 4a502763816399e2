package enums

import "fmt"

// ApprovalStatus maps to approval_requests.status.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusEscalated ApprovalStatus = "escalated"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

var validApprovalStatuses = []ApprovalStatus{
	ApprovalStatusPending,
	ApprovalStatusApproved,
	ApprovalStatusRejected,
	ApprovalStatusEscalated,
	ApprovalStatusCancelled,
}

// IsValid reports whether the value matches a known status.
func (s ApprovalStatus) IsValid() bool {
	for _, candidate := range validApprovalStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports statuses that accept no further decisions.
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusCancelled:
		return true
	}
	return false
}

// OpenApprovalStatuses are the non-terminal statuses guarded by the partial unique index.
var OpenApprovalStatuses = []ApprovalStatus{ApprovalStatusPending, ApprovalStatusEscalated}

// TerminalApprovalStatuses accept no further decisions.
var TerminalApprovalStatuses = []ApprovalStatus{ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusCancelled}

// ParseApprovalStatus converts raw input into ApprovalStatus.
func ParseApprovalStatus(value string) (ApprovalStatus, error) {
	for _, candidate := range validApprovalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid approval status %q", value)
}

// ApprovalDecision is the action recorded in approval history.
type ApprovalDecision string

const (
	ApprovalDecisionApprove  ApprovalDecision = "approve"
	ApprovalDecisionReject   ApprovalDecision = "reject"
	ApprovalDecisionEscalate ApprovalDecision = "escalate"
	ApprovalDecisionCancel   ApprovalDecision = "cancel"
)

// ParseApprovalDecision accepts only the decisions a human approver may submit.
func ParseApprovalDecision(value string) (ApprovalDecision, error) {
	switch ApprovalDecision(value) {
	case ApprovalDecisionApprove, ApprovalDecisionReject:
		return ApprovalDecision(value), nil
	}
	return "", fmt.Errorf("invalid approval decision %q", value)
}

// DecisionKind distinguishes who or what produced a history entry.
type DecisionKind string

const (
	DecisionKindHuman  DecisionKind = "human"
	DecisionKindAuto   DecisionKind = "auto"
	DecisionKindSystem DecisionKind = "system"
	DecisionKindBypass DecisionKind = "bypass"
)
