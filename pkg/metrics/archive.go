package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ArchiveMetrics observes archive exports.
type ArchiveMetrics interface {
	// ObserveExport records one finished export.
	//
	// Parameters:
	//   - dest: "stream" or "s3"
	//   - duration: Time from snapshot to the last byte written
	//   - bytes: Archive size as written to the destination
	//   - err: The outcome
	ObserveExport(dest string, duration time.Duration, bytes int64, err error)

	// RecordMultipartUpload records a multipart upload event.
	//
	// Parameters:
	//   - status: "initiated", "completed", or "aborted"
	RecordMultipartUpload(status string)

	// RecordDecryptFallback counts files exported raw because their
	// ciphertext did not decrypt cleanly.
	RecordDecryptFallback()
}

type archiveMetrics struct {
	exports          *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	bytes            *prometheus.CounterVec
	multipartUploads *prometheus.CounterVec
	decryptFallbacks prometheus.Counter
}

// NewArchiveMetrics creates a Prometheus-backed ArchiveMetrics instance, or
// a no-op one when metrics are disabled.
func NewArchiveMetrics() ArchiveMetrics {
	if !IsEnabled() {
		return NewNoopArchiveMetrics()
	}

	reg := GetRegistry()

	return &archiveMetrics{
		exports: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_exports_total",
				Help:      "Total number of archive exports by destination and status",
			},
			[]string{"destination", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "archive_export_duration_seconds",
				Help:      "Duration of archive exports in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.1,  // 100ms
					0.5,  // 500ms
					1.0,  // 1s
					5.0,  // 5s
					10.0, // 10s
					30.0, // 30s
					60.0, // 1min
					300,  // 5min
				},
			},
			[]string{"destination"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_bytes_total",
				Help:      "Total archive bytes written by destination",
			},
			[]string{"destination"},
		),
		multipartUploads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_s3_multipart_uploads_total",
				Help:      "Total number of S3 multipart uploads by status",
			},
			[]string{"status"},
		),
		decryptFallbacks: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_decrypt_fallbacks_total",
				Help:      "Total number of files exported raw after a failed decrypt",
			},
		),
	}
}

func (m *archiveMetrics) ObserveExport(dest string, duration time.Duration, bytes int64, err error) {
	m.exports.WithLabelValues(dest, status(err)).Inc()
	m.duration.WithLabelValues(dest).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytes.WithLabelValues(dest).Add(float64(bytes))
	}
}

func (m *archiveMetrics) RecordMultipartUpload(status string) {
	m.multipartUploads.WithLabelValues(status).Inc()
}

func (m *archiveMetrics) RecordDecryptFallback() {
	m.decryptFallbacks.Inc()
}

type noopArchiveMetrics struct{}

// NewNoopArchiveMetrics returns an ArchiveMetrics that discards everything.
func NewNoopArchiveMetrics() ArchiveMetrics { return noopArchiveMetrics{} }

func (noopArchiveMetrics) ObserveExport(string, time.Duration, int64, error) {}
func (noopArchiveMetrics) RecordMultipartUpload(string)                      {}
func (noopArchiveMetrics) RecordDecryptFallback()                            {}
