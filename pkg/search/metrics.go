package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "mdsearch"

// Metrics are the per-run search metrics. They live on their own registry so
// concurrent runs (and tests) do not share state.
type Metrics struct {
	Registry *prometheus.Registry

	iterations      *prometheus.CounterVec
	counterexamples prometheus.Counter
	solveDuration   *prometheus.HistogramVec
	faultStreak     prometheus.Gauge
}

// NewMetrics registers the search metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		// Iteration metrics
		iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "iterations_total",
				Help:      "Search iterations by outcome",
			},
			[]string{"outcome"},
		),

		counterexamples: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "counterexamples_total",
				Help:      "Instances on which at least one hypothesis failed",
			},
		),

		// Solver metrics
		solveDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "solve_duration_seconds",
				Help:      "Wall-clock duration of LP solves",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"model"},
		),

		faultStreak: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "consecutive_faults",
				Help:      "Current run of consecutive generation faults, solver faults and timeouts",
			},
		),
	}
}

// RecordOutcome counts one finished iteration.
func (m *Metrics) RecordOutcome(kind OutcomeKind) {
	m.iterations.WithLabelValues(kind.String()).Inc()
	if kind == OutcomeCounterexample {
		m.counterexamples.Inc()
	}
}

// RecordSolve observes the duration of one solve of the named model.
func (m *Metrics) RecordSolve(model string, seconds float64) {
	m.solveDuration.WithLabelValues(model).Observe(seconds)
}

// RecordFaultStreak publishes the breaker state.
func (m *Metrics) RecordFaultStreak(n int) {
	m.faultStreak.Set(float64(n))
}

// WriteTextfile writes the current metrics in Prometheus text format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
