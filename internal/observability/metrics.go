package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// Metrics holds the collectors of the CRUD pipeline
type Metrics struct {
	// Operations counts data source and behaviors calls by class, operation and outcome
	Operations *prometheus.CounterVec
	// Duration tracks how long each operation took in seconds
	Duration *prometheus.HistogramVec
	// HTTPRequests counts API requests by route and status code
	HTTPRequests *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors with reg. A nil reg uses a fresh
// registry, which keeps tests isolated from the global one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crudkit",
				Subsystem: "orm",
				Name:      "operations_total",
				Help:      "Total number of data source and behaviors operations by outcome",
			},
			[]string{"class", "operation", "outcome"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crudkit",
				Subsystem: "orm",
				Name:      "operation_duration_seconds",
				Help:      "Duration of data source and behaviors operations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"class", "operation"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crudkit",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests by route and status code",
			},
			[]string{"route", "status_code"},
		),
		gatherer: reg,
	}
}

// Observe records one finished operation. A nil Metrics records nothing.
func (m *Metrics) Observe(class, operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(class, operation, outcome).Inc()
	m.Duration.WithLabelValues(class, operation).Observe(time.Since(start).Seconds())
}

// Handler serves the registered collectors in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
