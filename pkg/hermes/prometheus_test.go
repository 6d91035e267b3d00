package hermes

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)

	m.IncCounter(MetricTier, 1, Label{Key: "tier", Value: "RED"})
	m.IncCounter(MetricTier, 2, Label{Key: "tier", Value: "RED"})
	m.ObserveHistogram(MetricStageDuration, 0.5, Label{Key: "stage", Value: "forecast"})
	m.SetGauge(MetricBacktestMAE, 10)
	m.SetGauge(MetricBacktestMAE, 20)

	assert.Contains(t, m.counters, MetricTier)
	assert.Contains(t, m.histograms, MetricStageDuration)
	assert.Contains(t, m.gauges, MetricBacktestMAE)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.counters[MetricTier].WithLabelValues("RED")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.gauges[MetricBacktestMAE].WithLabelValues()))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestPrometheusMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusMetrics(reg)
	b := NewPrometheusMetrics(reg)

	a.IncCounter(MetricRuns, 1, Label{Key: "outcome", Value: "ok"})
	assert.NotPanics(t, func() {
		b.IncCounter(MetricRuns, 1, Label{Key: "outcome", Value: "ok"})
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(b.counters[MetricRuns].WithLabelValues("ok")))
}
