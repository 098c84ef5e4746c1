// Package metrics exposes the relay's Prometheus instruments.
// Every recording method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncrelay"

// Metrics contains all relay metrics.
type Metrics struct {
	ConnectionsActive   *prometheus.GaugeVec
	UsersActive         prometheus.Gauge
	ConnectionsRejected *prometheus.CounterVec
	ConnectionsClosed   *prometheus.CounterVec

	EventsRouted  *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec
	RouteDuration *prometheus.HistogramVec

	SessionCacheLookups *prometheus.CounterVec

	AlarmRetries     *prometheus.CounterVec
	AlarmDeadLetters *prometheus.CounterVec
}

// New creates the relay metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "active",
				Help:      "Live WebSocket connections by scope",
			},
			[]string{"scope"},
		),
		UsersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "users_active",
				Help:      "Users holding at least one live connection",
			},
		),
		ConnectionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "rejected_total",
				Help:      "Connections refused at registration or handshake",
			},
			[]string{"reason"},
		),
		ConnectionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "connections",
				Name:      "closed_total",
				Help:      "Connections closed by the relay, by close code",
			},
			[]string{"code"},
		),
		EventsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "events_total",
				Help:      "Accepted events by category and type",
			},
			[]string{"category", "type"},
		),
		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "dropped_total",
				Help:      "Events dropped before fan-out, by reason",
			},
			[]string{"reason"},
		),
		RouteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "route_duration_seconds",
				Help:      "Time spent routing one message",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"category"},
		),
		SessionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session_cache",
				Name:      "lookups_total",
				Help:      "Session activity lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),
		AlarmRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alarm",
				Name:      "retries_total",
				Help:      "Scheduled retries of failed alarm tasks",
			},
			[]string{"context"},
		),
		AlarmDeadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alarm",
				Name:      "dead_letters_total",
				Help:      "Alarm tasks that exhausted their retries",
			},
			[]string{"context"},
		),
	}

	reg.MustRegister(
		m.ConnectionsActive,
		m.UsersActive,
		m.ConnectionsRejected,
		m.ConnectionsClosed,
		m.EventsRouted,
		m.EventsDropped,
		m.RouteDuration,
		m.SessionCacheLookups,
		m.AlarmRetries,
		m.AlarmDeadLetters,
	)

	return m
}

// NewRegistry returns a Prometheus registry preloaded with Go runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ConnectionOpened records a registered connection.
func (m *Metrics) ConnectionOpened(scope string, newUser bool) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(scope).Inc()
	if newUser {
		m.UsersActive.Inc()
	}
}

// ConnectionRemoved records an unregistered connection.
func (m *Metrics) ConnectionRemoved(scope string, lastForUser bool) {
	if m == nil {
		return
	}
	m.ConnectionsActive.WithLabelValues(scope).Dec()
	if lastForUser {
		m.UsersActive.Dec()
	}
}

// ConnectionRejected records a refused connection.
func (m *Metrics) ConnectionRejected(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// ConnectionClosed records a relay-initiated close.
func (m *Metrics) ConnectionClosed(code string) {
	if m == nil {
		return
	}
	m.ConnectionsClosed.WithLabelValues(code).Inc()
}

// EventRouted records an accepted event.
func (m *Metrics) EventRouted(category, eventType string) {
	if m == nil {
		return
	}
	m.EventsRouted.WithLabelValues(category, eventType).Inc()
}

// EventDropped records an event dropped before fan-out.
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

// ObserveRoute records how long routing one message took.
func (m *Metrics) ObserveRoute(category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RouteDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// SessionLookup records a session activity cache lookup.
func (m *Metrics) SessionLookup(result string) {
	if m == nil {
		return
	}
	m.SessionCacheLookups.WithLabelValues(result).Inc()
}

// AlarmRetried records a scheduled retry.
func (m *Metrics) AlarmRetried(taskContext string) {
	if m == nil {
		return
	}
	m.AlarmRetries.WithLabelValues(taskContext).Inc()
}

// AlarmDeadLettered records a task promoted to the dead-letter log.
func (m *Metrics) AlarmDeadLettered(taskContext string) {
	if m == nil {
		return
	}
	m.AlarmDeadLetters.WithLabelValues(taskContext).Inc()
}
