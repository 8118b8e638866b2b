// Package metrics defines the Prometheus instruments for the submission pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Submission results
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
)

// Metrics holds all Prometheus metrics for the server.
// A struct rather than package globals keeps registries independent in tests.
type Metrics struct {
	DatagramsTotal    prometheus.Counter
	SubmissionsTotal  *prometheus.CounterVec
	OutcomesTotal     *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	InFlight          prometheus.Gauge
}

// New creates and registers all metrics on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatagramsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snipbox_datagrams_total",
			Help: "Total datagrams read from the UDP socket.",
		}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snipbox_submissions_total",
			Help: "Total submissions, by result (accepted, rejected, dropped).",
		}, []string{"result"}),

		OutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "snipbox_outcomes_total",
			Help: "Total executions, by outcome (ran, timeout, runtime_error).",
		}, []string{"outcome"}),

		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snipbox_execution_duration_seconds",
			Help:    "Wall-clock duration of sandboxed executions in seconds.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snipbox_in_flight",
			Help: "Number of submissions currently being validated or executed.",
		}),
	}

	reg.MustRegister(
		m.DatagramsTotal,
		m.SubmissionsTotal,
		m.OutcomesTotal,
		m.ExecutionDuration,
		m.InFlight,
	)

	return m
}
