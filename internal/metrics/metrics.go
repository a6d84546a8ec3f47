// Package metrics holds the Prometheus collectors for lifecycle operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use through a nil pointer, in which case nothing is recorded.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "giveaway_operations_total",
			Help: "Lifecycle operations by name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "giveaway_operation_duration_seconds",
			Help:    "Lifecycle operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.operations, m.duration)
	return m
}

// Observe records one finished operation. result is "ok" or a short error
// class such as "not_found".
func (m *Metrics) Observe(operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result).Inc()
	m.duration.WithLabelValues(operation).Observe(seconds)
}

// Count returns the number of observed operations with the given result.
func (m *Metrics) Count(operation, result string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.operations.WithLabelValues(operation, result))
}
