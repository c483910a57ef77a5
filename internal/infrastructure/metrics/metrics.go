// Package metrics exposes orchestrator counters on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "issueflow"

type Metrics struct {
	registry *prometheus.Registry

	Transitions         *prometheus.CounterVec
	Ticks               *prometheus.CounterVec
	TickDuration        prometheus.Histogram
	ForcedLocks         prometheus.Counter
	ActiveSlots         *prometheus.GaugeVec
	NotificationsQueued prometheus.Counter
	NotificationsFailed prometheus.Counter
	NotificationsDrop   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow transitions applied, by project and event.",
		}, []string{"project", "event"}),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_ticks_total",
			Help:      "Heartbeat ticks, by outcome (ok, error, skipped).",
		}, []string{"outcome"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_tick_seconds",
			Help:      "Duration of one heartbeat tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		ForcedLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_lock_forced_total",
			Help:      "Slot store lock acquisitions forced after the timeout.",
		}),
		ActiveSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_slots",
			Help:      "Active worker slots, by project and role.",
		}, []string{"project", "role"}),
		NotificationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_queued_total",
			Help:      "Notifications accepted by the outbound queue.",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notifications whose delivery failed.",
		}),
		NotificationsDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
	}
	m.registry.MustRegister(
		m.Transitions,
		m.Ticks,
		m.TickDuration,
		m.ForcedLocks,
		m.ActiveSlots,
		m.NotificationsQueued,
		m.NotificationsFailed,
		m.NotificationsDrop,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveTransition(project string, event string) {
	m.Transitions.WithLabelValues(project, event).Inc()
}

func (m *Metrics) ObserveTick(outcome string, elapsed time.Duration) {
	m.Ticks.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		m.TickDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) SetActiveSlots(project string, role string, n int) {
	m.ActiveSlots.WithLabelValues(project, role).Set(float64(n))
}
