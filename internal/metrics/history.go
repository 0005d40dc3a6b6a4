package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryMetrics holds Prometheus metrics for the message history store.
// A nil *HistoryMetrics is valid and records nothing.
type HistoryMetrics struct {
	Requests *prometheus.CounterVec   // labels: op, outcome
	Duration *prometheus.HistogramVec // label: op
}

// NewHistoryMetrics creates and registers history metrics on the given registry.
func NewHistoryMetrics(reg prometheus.Registerer) *HistoryMetrics {
	m := &HistoryMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "requests_total",
			Help:      "Total number of history store calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "request_duration_seconds",
			Help:      "History store call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(m.Requests, m.Duration)
	return m
}

// Observe records one store call.
func (m *HistoryMetrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Requests.WithLabelValues(op, outcome).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
