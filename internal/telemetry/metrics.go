package telemetry

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
)

const namespace = "patchpilot"

// Metrics counts backend calls and stage outcomes on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	calls         *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Backend calls by endpoint, HTTP status and error kind.",
		}, []string{"endpoint", "status", "error_kind"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Backend call latency by endpoint.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"endpoint"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Stage status changes by stage and target status.",
		}, []string{"stage", "to"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Settled stage attempt duration by stage and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage", "outcome"}),
	}
	m.registry.MustRegister(m.calls, m.callDuration, m.transitions, m.stageDuration)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Call(rec backend.CallRecord) {
	status := "none"
	if rec.StatusCode != 0 {
		status = strconv.Itoa(rec.StatusCode)
	}
	kind := rec.ErrorKind
	if kind == "" {
		kind = "none"
	}
	m.calls.WithLabelValues(rec.Endpoint, status, kind).Inc()
	m.callDuration.WithLabelValues(rec.Endpoint).Observe(rec.Duration.Seconds())
}

func (m *Metrics) Transition(tr pipeline.Transition) {
	m.transitions.WithLabelValues(string(tr.Stage), string(tr.To)).Inc()
	if tr.From == pipeline.StatusLoading && (tr.To == pipeline.StatusSuccess || tr.To == pipeline.StatusError) {
		m.stageDuration.WithLabelValues(string(tr.Stage), string(tr.To)).Observe(tr.Duration.Seconds())
	}
}

// WriteFile dumps the registry in the text exposition format, suitable for
// the node_exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics file: %w", err)
	}
	return nil
}
