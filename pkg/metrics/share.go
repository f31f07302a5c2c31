package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Share resolution outcomes.
const (
	ShareResolved  = "resolved"
	ShareNotFound  = "not_found"
	ShareGone      = "gone"
	ShareThrottled = "throttled"
)

// ShareMetrics observes the share link registry.
type ShareMetrics interface {
	// RecordIssued counts a newly issued link.
	RecordIssued()

	// RecordResolution counts one Resolve call by outcome.
	RecordResolution(outcome string)
}

type shareMetrics struct {
	issued      prometheus.Counter
	resolutions *prometheus.CounterVec
}

// NewShareMetrics creates a Prometheus-backed ShareMetrics instance, or a
// no-op one when metrics are disabled.
func NewShareMetrics() ShareMetrics {
	if !IsEnabled() {
		return NewNoopShareMetrics()
	}

	reg := GetRegistry()

	return &shareMetrics{
		issued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "share_links_issued_total",
				Help:      "Total number of share links issued",
			},
		),
		resolutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "share_resolutions_total",
				Help:      "Total number of share link resolutions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *shareMetrics) RecordIssued() {
	m.issued.Inc()
}

func (m *shareMetrics) RecordResolution(outcome string) {
	m.resolutions.WithLabelValues(outcome).Inc()
}

type noopShareMetrics struct{}

// NewNoopShareMetrics returns a ShareMetrics that discards everything.
func NewNoopShareMetrics() ShareMetrics { return noopShareMetrics{} }

func (noopShareMetrics) RecordIssued()           {}
func (noopShareMetrics) RecordResolution(string) {}
