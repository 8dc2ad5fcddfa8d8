package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue returns the value of the counter name whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("audit_record").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("audit_record").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": "audit_record", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": "audit_record", "status": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": "audit_record"}))
}

func TestSkipRetryIsDroppedNotFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	err := m.Track("audit_record").End(fmt.Errorf("decode: %w", asynq.SkipRetry))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_jobs_total", map[string]string{"job": "audit_record", "status": StatusDropped}))
	assert.Zero(t, counterValue(t, reg, "odyssey_jobs_failures_total", map[string]string{"job": "audit_record"}))
}

func TestAddPruned(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddPruned(40)
	m.AddPruned(0)
	m.AddPruned(2)
	assert.Equal(t, 42.0, counterValue(t, reg, "odyssey_audit_pruned_total", nil))
}

func TestAddRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.AddRecords("rbac.role.provisioned", 2)
	m.AddRecords("", 1)
	m.AddRecords("ignored", 0)

	assert.Equal(t, 2.0, counterValue(t, reg, "odyssey_audit_records_total", map[string]string{"event": "rbac.role.provisioned"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "odyssey_audit_records_total", map[string]string{"event": "unknown"}))
	assert.Zero(t, counterValue(t, reg, "odyssey_audit_records_total", map[string]string{"event": "ignored"}))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.AddRecords("x", 1)
	m.AddPruned(1)
}
