package hermes

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names emitted by the pipeline
const (
	MetricForecasts         = "pythia_forecasts_total"
	MetricFallbackForecasts = "pythia_fallback_forecasts_total"
	MetricTier              = "pythia_tier_total"
	MetricExclusions        = "pythia_exclusions_total"
	MetricStageDuration     = "pythia_stage_duration_seconds"
	MetricBacktestMAE       = "pythia_backtest_mae"
	MetricBacktestMAPE      = "pythia_backtest_mape"
	MetricRuns              = "pythia_runs_total"
	MetricIngested          = "pythia_ingested_observations_total"
)

var help = map[string]string{
	MetricForecasts:         "Forecast records produced.",
	MetricFallbackForecasts: "Forecast records that used a fallback instead of the seasonal reference day.",
	MetricTier:              "Risk assessments by tier.",
	MetricExclusions:        "Sites excluded from a run stage.",
	MetricStageDuration:     "Pipeline stage duration in seconds.",
	MetricBacktestMAE:       "Mean absolute error of the most recent backtest.",
	MetricBacktestMAPE:      "Mean absolute percentage error of the most recent backtest.",
	MetricRuns:              "Pipeline runs by outcome.",
	MetricIngested:          "Observations persisted by the ingestor.",
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// PrometheusMetrics implements the Metrics interface using Prometheus.
// Vectors are created lazily on first use; the label keys of the first
// call fix the vector's label set.
type PrometheusMetrics struct {
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	mu         sync.RWMutex
}

// NewPrometheusMetrics creates a PrometheusMetrics registering on reg,
// or on the default registerer when reg is nil.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PrometheusMetrics) getLabels(labels []Label) ([]string, []string) {
	keys := make([]string, len(labels))
	values := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = l.Key
		values[i] = l.Value
	}
	return keys, values
}

// register adopts an already registered collector so that two instances
// sharing a registry do not panic.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, labels ...Label) {
	m.mu.RLock()
	vec, ok := m.counters[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		vec, ok = m.counters[name]
		if !ok {
			keys, _ := m.getLabels(labels)
			vec = register(m.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: name,
				Help: helpFor(name),
			}, keys))
			m.counters[name] = vec
		}
		m.mu.Unlock()
	}

	_, values := m.getLabels(labels)
	vec.WithLabelValues(values...).Add(value)
}

func (m *PrometheusMetrics) ObserveHistogram(name string, value float64, labels ...Label) {
	m.mu.RLock()
	vec, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		vec, ok = m.histograms[name]
		if !ok {
			keys, _ := m.getLabels(labels)
			vec = register(m.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    name,
				Help:    helpFor(name),
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
			}, keys))
			m.histograms[name] = vec
		}
		m.mu.Unlock()
	}

	_, values := m.getLabels(labels)
	vec.WithLabelValues(values...).Observe(value)
}

func (m *PrometheusMetrics) SetGauge(name string, value float64, labels ...Label) {
	m.mu.RLock()
	vec, ok := m.gauges[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		vec, ok = m.gauges[name]
		if !ok {
			keys, _ := m.getLabels(labels)
			vec = register(m.registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: name,
				Help: helpFor(name),
			}, keys))
			m.gauges[name] = vec
		}
		m.mu.Unlock()
	}

	_, values := m.getLabels(labels)
	vec.WithLabelValues(values...).Set(value)
}
