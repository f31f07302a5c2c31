package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetadataMetrics observes metadata store transactions.
//
// This interface is optional - stores given nil fall back to the no-op
// implementation.
type MetadataMetrics interface {
	// RecordTransaction records one Update or View call.
	//
	// Parameters:
	//   - kind: "update" or "view"
	//   - duration: Time spent inside the transaction, commit included
	//   - err: The transaction outcome
	RecordTransaction(kind string, duration time.Duration, err error)
}

// metadataMetrics is the Prometheus implementation of MetadataMetrics.
type metadataMetrics struct {
	storeType    string
	transactions *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// NewMetadataMetrics creates a Prometheus-backed MetadataMetrics instance.
//
// Parameters:
//   - storeType: Type of metadata store ("memory", "badger"), used as label
//
// Returns a no-op implementation if metrics are not enabled.
func NewMetadataMetrics(storeType string) MetadataMetrics {
	if !IsEnabled() {
		return NewNoopMetadataMetrics()
	}

	reg := GetRegistry()

	return &metadataMetrics{
		storeType: storeType,
		transactions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_transactions_total",
				Help:      "Total number of metadata transactions by store type, kind, and status",
			},
			[]string{"store_type", "kind", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metadata_transaction_duration_seconds",
				Help:      "Duration of metadata transactions in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"store_type", "kind"},
		),
	}
}

func (m *metadataMetrics) RecordTransaction(kind string, duration time.Duration, err error) {
	m.transactions.WithLabelValues(m.storeType, kind, status(err)).Inc()
	m.duration.WithLabelValues(m.storeType, kind).Observe(duration.Seconds())
}

type noopMetadataMetrics struct{}

// NewNoopMetadataMetrics returns a MetadataMetrics that discards everything.
func NewNoopMetadataMetrics() MetadataMetrics { return noopMetadataMetrics{} }

func (noopMetadataMetrics) RecordTransaction(string, time.Duration, error) {}
