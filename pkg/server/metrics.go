package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "devpulse"

// metrics holds the Prometheus instruments for the sync engine.
type metrics struct {
	connectionsActive  prometheus.Gauge
	messagesTotal      *prometheus.CounterVec
	messagesDropped    prometheus.Counter
	handlerErrors      prometheus.Counter
	broadcastEvictions prometheus.Counter
	persistFailures    prometheus.Counter
	sessionsPurged     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, h *Hub) *metrics {
	factory := promauto.With(reg)

	m := &metrics{
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections_active",
			Help:      "Number of live WebSocket connections",
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Total inbound messages processed, by type",
		}, []string{"type"}),

		messagesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Total malformed inbound messages dropped",
		}),

		handlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Total handler failures surfaced as error frames",
		}),

		broadcastEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "broadcast_evictions_total",
			Help:      "Total connections pruned after a failed send",
		}),

		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persist_failures_total",
			Help:      "Total failed persistence attempts",
		}),

		sessionsPurged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_purged_total",
			Help:      "Total sessions evicted by the purge scheduler",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_tracked",
		Help:      "Total sessions currently tracked across all users",
	}, func() float64 {
		sessions, _ := h.Counts()
		return float64(sessions)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "users_connected",
		Help:      "Users with at least one live connection",
	}, func() float64 {
		_, users := h.Counts()
		return float64(users)
	})

	return m
}
