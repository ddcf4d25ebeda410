// Package metrics exposes Prometheus metrics for the trading client:
//
//	commsec_attempts_total{operation,outcome}   one per retry attempt
//	commsec_runs_total{operation,outcome}       one per retried operation
//	commsec_run_attempts{operation}             attempts used per operation
//	commsec_run_seconds{operation}              wall time per operation
//	commsec_orders_total{side,result}           placed or rejected orders
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commsec-trader/internal/retry"
)

type Metrics struct {
	registry *prometheus.Registry

	attempts    *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runAttempts *prometheus.HistogramVec
	runSeconds  *prometheus.HistogramVec
	orders      *prometheus.CounterVec
}

// New registers every metric on a private registry so tests and multiple
// clients never collide on the global one.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commsec_attempts_total",
				Help: "Retry attempts by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commsec_runs_total",
				Help: "Retried operations by final outcome",
			},
			[]string{"operation", "outcome"},
		),
		runAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commsec_run_attempts",
				Help:    "Attempts used per operation",
				Buckets: []float64{1, 2, 3, 4, 5},
			},
			[]string{"operation"},
		),
		runSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commsec_run_seconds",
				Help:    "Wall time per retried operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commsec_orders_total",
				Help: "Orders by side and result (placed|rejected)",
			},
			[]string{"side", "result"},
		),
	}
	m.registry.MustRegister(m.attempts, m.runs, m.runAttempts, m.runSeconds, m.orders)
	return m
}

func (m *Metrics) ObserveAttempt(op string, outcome retry.Outcome) {
	m.attempts.WithLabelValues(op, string(outcome)).Inc()
}

func (m *Metrics) ObserveRun(op string, outcome retry.Outcome, attempts int, elapsed time.Duration) {
	m.runs.WithLabelValues(op, string(outcome)).Inc()
	m.runAttempts.WithLabelValues(op).Observe(float64(attempts))
	m.runSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveOrder counts an order that reached a terminal state.
func (m *Metrics) ObserveOrder(side string, placed bool) {
	result := "rejected"
	if placed {
		result = "placed"
	}
	m.orders.WithLabelValues(side, result).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
