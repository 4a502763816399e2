package enums

// AlertSeverity orders alert urgency for the notification collaborator.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertCategory groups alerts for routing downstream.
type AlertCategory string

const (
	AlertCategoryLowBalance      AlertCategory = "low_balance"
	AlertCategoryAuditFailure    AlertCategory = "audit_failure"
	AlertCategoryMutationFailure AlertCategory = "mutation_failure"
	AlertCategoryApprovalBypass  AlertCategory = "approval_bypass"
	AlertCategoryHookFailure     AlertCategory = "resolution_hook_failure"
)
