package metrics

import "github.com/prometheus/client_golang/prometheus"

// FinanceMetrics counts ledger writes, approval outcomes and audit failures.
// A nil *FinanceMetrics is valid and records nothing.
type FinanceMetrics struct {
	entries       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	approvals     *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	auditFailures prometheus.Counter
}

// NewFinanceMetrics registers the finance counters on the provided registerer.
func NewFinanceMetrics(reg prometheus.Registerer) *FinanceMetrics {
	if reg == nil {
		return &FinanceMetrics{}
	}
	m := &FinanceMetrics{
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgergate_ledger_entries_recorded_total",
			Help: "Ledger entries committed, by stream and type.",
		}, []string{"stream", "type"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgergate_ledger_writes_rejected_total",
			Help: "Ledger writes rejected before commit, by error code.",
		}, []string{"code"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgergate_approval_requests_total",
			Help: "Approval requests by operation type and outcome (pending, passed, bypassed, duplicate).",
		}, []string{"operation_type", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgergate_approval_resolutions_total",
			Help: "Approval requests leaving pending, by status and decision kind.",
		}, []string{"status", "kind"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgergate_audit_write_failures_total",
			Help: "Audit entries that could not be persisted.",
		}),
	}
	reg.MustRegister(m.entries, m.rejections, m.approvals, m.resolutions, m.auditFailures)
	return m
}

func (m *FinanceMetrics) IncEntryRecorded(stream, entryType string) {
	if m == nil || m.entries == nil {
		return
	}
	m.entries.WithLabelValues(normalizeLabel(stream), normalizeLabel(entryType)).Inc()
}

func (m *FinanceMetrics) IncWriteRejected(code string) {
	if m == nil || m.rejections == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(code)).Inc()
}

func (m *FinanceMetrics) IncApprovalRequest(operationType, outcome string) {
	if m == nil || m.approvals == nil {
		return
	}
	m.approvals.WithLabelValues(normalizeLabel(operationType), normalizeLabel(outcome)).Inc()
}

func (m *FinanceMetrics) IncResolution(status, kind string) {
	if m == nil || m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(normalizeLabel(status), normalizeLabel(kind)).Inc()
}

func (m *FinanceMetrics) IncAuditFailure() {
	if m == nil || m.auditFailures == nil {
		return
	}
	m.auditFailures.Inc()
}
