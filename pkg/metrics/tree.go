package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TreeMetrics observes tree engine operations.
type TreeMetrics interface {
	// RecordOperation records one mutator or read operation.
	//
	// Parameters:
	//   - op: Operation name ("upload", "move", "recycle", ...)
	//   - duration: Wall time including the metadata transaction
	//   - err: The outcome; StoreError codes become the status label
	RecordOperation(op string, duration time.Duration, err error)

	// RecordQuotaRejection counts an upload refused by the quota guard.
	RecordQuotaRejection()

	// RecordBytesWritten counts payload bytes accepted into the live area.
	RecordBytesWritten(bytes int64)

	// RecordFatal counts storage faults that may have left metadata and the
	// physical layout diverged.
	RecordFatal(op string)
}

type treeMetrics struct {
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	quota        prometheus.Counter
	bytesWritten prometheus.Counter
	fatal        *prometheus.CounterVec
}

// NewTreeMetrics creates a Prometheus-backed TreeMetrics instance, or a
// no-op one when metrics are disabled.
func NewTreeMetrics() TreeMetrics {
	if !IsEnabled() {
		return NewNoopTreeMetrics()
	}

	reg := GetRegistry()

	return &treeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_operations_total",
				Help:      "Total number of tree operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tree_operation_duration_seconds",
				Help:      "Duration of tree operations in seconds",
				Buckets: []float64{
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
					5.0,    // 5s
					30.0,   // 30s
				},
			},
			[]string{"operation"},
		),
		quota: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_quota_rejections_total",
				Help:      "Total number of uploads rejected by the storage quota",
			},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_bytes_written_total",
				Help:      "Total payload bytes written to the live area",
			},
		),
		fatal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_fatal_storage_faults_total",
				Help:      "Physical storage faults raised inside metadata transactions",
			},
			[]string{"operation"},
		),
	}
}

func (m *treeMetrics) RecordOperation(op string, duration time.Duration, err error) {
	m.operations.WithLabelValues(op, status(err)).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *treeMetrics) RecordQuotaRejection() {
	m.quota.Inc()
}

func (m *treeMetrics) RecordBytesWritten(bytes int64) {
	if bytes > 0 {
		m.bytesWritten.Add(float64(bytes))
	}
}

func (m *treeMetrics) RecordFatal(op string) {
	m.fatal.WithLabelValues(op).Inc()
}

type noopTreeMetrics struct{}

// NewNoopTreeMetrics returns a TreeMetrics that discards everything.
func NewNoopTreeMetrics() TreeMetrics { return noopTreeMetrics{} }

func (noopTreeMetrics) RecordOperation(string, time.Duration, error) {}
func (noopTreeMetrics) RecordQuotaRejection()                        {}
func (noopTreeMetrics) RecordBytesWritten(int64)                     {}
func (noopTreeMetrics) RecordFatal(string)                           {}
