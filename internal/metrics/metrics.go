// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "escrow"

// Metrics groups every counter the engine records. A nil *Metrics is valid
// and records nothing, which keeps tests and optional wiring simple.
type Metrics struct {
	registry *prometheus.Registry

	deposits      *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepErrors   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	confirmations *prometheus.CounterVec
}

// New creates a Metrics backed by its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_verifications_total",
			Help:      "Deposit verification attempts by result code.",
		}, []string{"purpose", "result"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Finalized markets by outcome.",
		}, []string{"outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_items_total",
			Help:      "Markets handled by the deadline sweeper per step.",
		}, []string{"step"}),
		sweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_errors_total",
			Help:      "Per-item failures inside deadline sweeper steps.",
		}, []string{"step"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_enqueued_total",
			Help:      "Notifications written to the outbox by type.",
		}, []string{"type"}),
		confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_confirmation_checks_total",
			Help:      "Confirmation watcher results per payment check.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deposits,
		m.settlements,
		m.sweeps,
		m.sweepErrors,
		m.notifications,
		m.confirmations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) DepositVerified(purpose, result string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(purpose, result).Inc()
}

func (m *Metrics) Settled(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SweepStep(step string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweeps.WithLabelValues(step).Add(float64(n))
}

func (m *Metrics) SweepError(step string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(step).Inc()
}

func (m *Metrics) NotificationEnqueued(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConfirmationCheck(result string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(result).Inc()
}
