package telemetry

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics backs Metrics with github.com/prometheus/client_golang, registering
// vectors lazily by name/tag-key-set on first use. cmd/tripwire serve records each
// session's pipeline counters (events processed, component faults) through this backend and
// exposes them on --metrics-addr; no health score gauge, veto-reason counter, or decision
// latency histogram is recorded.
type PrometheusMetrics struct {
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics constructs a Metrics recorder registered against reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func tagKeys(tags []string) []string {
	keys := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		keys = append(keys, tags[i])
	}
	return keys
}

func tagValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		if i+1 < len(tags) {
			labels[tags[i]] = tags[i+1]
		}
	}
	return labels
}

func metricName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), ".", "_")
}

func (m *PrometheusMetrics) IncCounter(name string, value float64, tags ...string) {
	key := metricName(name)
	vec, ok := m.counters[key]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: key}, tagKeys(tags))
		m.registerer.MustRegister(vec)
		m.counters[key] = vec
	}
	vec.With(tagValues(tags)).Add(value)
}

func (m *PrometheusMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	key := metricName(name) + "_seconds"
	vec, ok := m.histograms[key]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: key}, tagKeys(tags))
		m.registerer.MustRegister(vec)
		m.histograms[key] = vec
	}
	vec.With(tagValues(tags)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, tags ...string) {
	key := metricName(name)
	vec, ok := m.gauges[key]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: key}, tagKeys(tags))
		m.registerer.MustRegister(vec)
		m.gauges[key] = vec
	}
	vec.With(tagValues(tags)).Set(value)
}
