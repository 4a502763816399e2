package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinanceMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFinanceMetrics(reg)

	m.IncEntryRecorded("capital", "out")
	m.IncEntryRecorded("capital", "out")
	m.IncResolution("approved", "auto")
	m.IncAuditFailure()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "ledgergate_ledger_entries_recorded_total", "type", "out")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "ledgergate_approval_resolutions_total", "kind", "auto")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got)

	mf := findMetricFamily(mfs, "ledgergate_audit_write_failures_total")
	require.NotNil(t, mf)
	assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
}

func TestNilFinanceMetricsIsSafe(t *testing.T) {
	var m *FinanceMetrics
	m.IncEntryRecorded("capital", "in")
	m.IncWriteRejected("INSUFFICIENT_BALANCE")
	m.IncApprovalRequest("ledger.capital.out", "pending")
	m.IncResolution("approved", "human")
	m.IncAuditFailure()

	unregistered := NewFinanceMetrics(nil)
	unregistered.IncAuditFailure()
}
