package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appointments"

// Outcome labels shared by the booking path and the queue-driven workers.
const (
	OutcomeOK           = "ok"
	OutcomeFailed       = "failed"
	OutcomeDropped      = "dropped"
	OutcomeInvalid      = "invalid"
	OutcomeNotifyFailed = "notify_failed"
	OutcomeReplayed     = "replayed"
)

// Metrics is the process-wide set of saga counters.
type Metrics struct {
	registry *prometheus.Registry

	Bookings        *prometheus.CounterVec // country, outcome
	ConsumerResults *prometheus.CounterVec // country, outcome
	ReconcilerRuns  *prometheus.CounterVec // outcome
	DeadLettered    *prometheus.CounterVec // queue
	Forwarded       *prometheus.CounterVec // topic, queue
	Republished     prometheus.Counter
	Abandoned       prometheus.Counter
}

// New builds a Metrics registered on its own registry, so tests can build
// as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by country and outcome.",
		}, []string{"country", "outcome"}),
		ConsumerResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Notification messages handled by country consumers.",
		}, []string{"country", "outcome"}),
		ReconcilerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_messages_total",
			Help:      "Completion messages handled by the reconciler.",
		}, []string{"outcome"}),
		DeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dead_lettered_total",
			Help:      "Messages moved to a dead-letter stream after exhausting receives.",
		}, []string{"queue"}),
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_forwarded_total",
			Help:      "Broker messages forwarded into a work queue.",
		}, []string{"topic", "queue"}),
		Republished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pending_republished_total",
			Help:      "Stale pending appointments re-notified by the sweeper.",
		}),
		Abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_pending_abandoned_total",
			Help:      "Pending appointments the sweeper stopped re-notifying after the attempt limit.",
		}),
	}

	reg.MustRegister(
		m.Bookings,
		m.ConsumerResults,
		m.ReconcilerRuns,
		m.DeadLettered,
		m.Forwarded,
		m.Republished,
		m.Abandoned,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
