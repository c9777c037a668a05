package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation results recorded for store accesses.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusNotFound = "not_found"
	StatusFailure  = "failure"
)

// StorageMetrics instruments session store accesses.
type StorageMetrics struct {
	// Counts of store operations.
	operations *prometheus.CounterVec

	// Latencies of store operations.
	latencies *prometheus.HistogramVec

	// Size of stored snapshots.
	snapshotBytes *prometheus.HistogramVec
}

// NewDefaultStorageMetrics creates Prometheus metric instrumentation
// for session store accesses.
func NewDefaultStorageMetrics() StorageMetrics {
	m := StorageMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairdraw_store_operations",
				Help: "How many session store operations occur, partitioned by backend, operation and status.",
			},
			[]string{"backend", "operation", "status"}, // Labels.
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fairdraw_store_latencies",
				Help: "How long session store operations take, partitioned by backend and operation.",
			},
			[]string{"backend", "operation"}, // Labels.
		),
		snapshotBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairdraw_store_snapshot_bytes",
				Help:    "Size of saved session snapshots.",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"backend"}, // Labels.
		),
	}
	m.operations = registerOnce(m.operations)
	m.latencies = registerOnce(m.latencies)
	m.snapshotBytes = registerOnce(m.snapshotBytes)
	return m
}

// StoreOperations returns the counter for the store operation.
func (m *StorageMetrics) StoreOperations(backend, operation, status string) prometheus.Counter {
	return m.operations.WithLabelValues(backend, operation, status)
}

// StoreLatencies returns a new latency timer for the store operation.
func (m *StorageMetrics) StoreLatencies(backend, operation string) *prometheus.Timer {
	return prometheus.NewTimer(m.latencies.WithLabelValues(backend, operation))
}

// SnapshotBytes returns the snapshot size observer for the backend.
func (m *StorageMetrics) SnapshotBytes(backend string) prometheus.Observer {
	return m.snapshotBytes.WithLabelValues(backend)
}
