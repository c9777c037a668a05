package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics instruments the session engine.
type EngineMetrics struct {
	operations  *prometheus.CounterVec
	latencies   *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	saveRetries *prometheus.CounterVec

	activeSessions prometheus.Gauge
	sweeps         *prometheus.CounterVec
}

// NewDefaultEngineMetrics creates Prometheus metric instrumentation for
// engine operations.
func NewDefaultEngineMetrics() EngineMetrics {
	m := EngineMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairdraw_engine_operations",
				Help: "How many engine operations occur, partitioned by operation and outcome (ok or error kind).",
			},
			[]string{"operation", "outcome"}, // Labels.
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fairdraw_engine_latencies",
				Help: "How long engine operations take, including store round trips and retries.",
			},
			[]string{"operation"}, // Labels.
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairdraw_phase_transitions",
				Help: "How many session phase transitions occur, partitioned by source and target phase.",
			},
			[]string{"from", "to"}, // Labels.
		),
		saveRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairdraw_save_retries",
				Help: "How many times an operation was retried after a version conflict.",
			},
			[]string{"operation"}, // Labels.
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fairdraw_active_sessions",
				Help: "Number of active sessions seen by the last sweep.",
			},
		),
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairdraw_sweeps",
				Help: "How many deadline sweeps ran, partitioned by status.",
			},
			[]string{"status"}, // Labels.
		),
	}
	m.operations = registerOnce(m.operations)
	m.latencies = registerOnce(m.latencies)
	m.transitions = registerOnce(m.transitions)
	m.saveRetries = registerOnce(m.saveRetries)
	m.activeSessions = registerOnce(m.activeSessions)
	m.sweeps = registerOnce(m.sweeps)
	return m
}

// Operations returns the counter for an engine operation outcome.
func (m *EngineMetrics) Operations(operation, outcome string) prometheus.Counter {
	return m.operations.WithLabelValues(operation, outcome)
}

// Latencies returns a new latency timer for an engine operation.
func (m *EngineMetrics) Latencies(operation string) *prometheus.Timer {
	return prometheus.NewTimer(m.latencies.WithLabelValues(operation))
}

// Transitions returns the counter for a phase transition.
func (m *EngineMetrics) Transitions(from, to string) prometheus.Counter {
	return m.transitions.WithLabelValues(from, to)
}

// SaveRetries returns the retry counter for an engine operation.
func (m *EngineMetrics) SaveRetries(operation string) prometheus.Counter {
	return m.saveRetries.WithLabelValues(operation)
}

// ActiveSessions returns the active session gauge.
func (m *EngineMetrics) ActiveSessions() prometheus.Gauge {
	return m.activeSessions
}

// Sweeps returns the sweep counter for the status.
func (m *EngineMetrics) Sweeps(status string) prometheus.Counter {
	return m.sweeps.WithLabelValues(status)
}
