package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Published("ShareCreditLine")
	m.Published("ShareCreditLine")
	m.PublishFailed("RevokeCreditLine")
	m.Decision("credit-line", "publish")
	m.TaskFailed("create")
	m.Inbound("CreditLineRequest", "ack")
	m.DedupConflict("deposit-loan")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("ShareCreditLine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishFailures.WithLabelValues("RevokeCreditLine")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("credit-line", "publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskFailures.WithLabelValues("create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("CreditLineRequest", "ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dedupConflicts.WithLabelValues("deposit-loan")))
}

func TestMetrics_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Published("x")
	m.PublishFailed("x")
	m.Decision("x", "y")
	m.TaskFailed("x")
	m.Inbound("x", "y")
	m.DedupConflict("x")
}
