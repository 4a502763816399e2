package enums

// RiskLevel classifies audit entries.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValid reports whether the value is a known risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AuditAction names what happened to the audited entity.
type AuditAction string

const (
	AuditLedgerEntryRecorded   AuditAction = "ledger.entry_recorded"
	AuditLedgerEntryUpdated    AuditAction = "ledger.entry_updated"
	AuditLedgerEntryVoided     AuditAction = "ledger.entry_voided"
	AuditLedgerEntryValidated  AuditAction = "ledger.entry_validated"
	AuditLedgerReconciled      AuditAction = "ledger.allocations_reconciled"
	AuditApprovalRequested     AuditAction = "approval.requested"
	AuditApprovalBypassed      AuditAction = "approval.bypassed"
	AuditApprovalNotRequired   AuditAction = "approval.not_required"
	AuditApprovalDecided       AuditAction = "approval.decided"
	AuditApprovalAutoApproved  AuditAction = "approval.auto_approved"
	AuditApprovalEscalated     AuditAction = "approval.escalated"
	AuditApprovalCancelled     AuditAction = "approval.cancelled"
	AuditPolicyChainUpserted   AuditAction = "policy.chain_upserted"
	AuditPolicyGuardUpserted   AuditAction = "policy.guard_upserted"
	AuditSettingUpdated        AuditAction = "settings.updated"
	AuditPendingMutationFailed AuditAction = "ledger.pending_mutation_failed"
)
