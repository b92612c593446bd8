package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics live in a registry owned by the server so that several servers
// (tests included) can coexist in one process.
type metrics struct {
	registry    *prometheus.Registry
	batches     prometheus.Counter
	navigations *prometheus.CounterVec
	dropped     prometheus.Counter
	sessions    prometheus.Counter
	finalized   prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		batches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "navtrace",
			Name:      "batches_received_total",
			Help:      "Event batches posted by in-page hooks.",
		}),
		navigations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "navtrace",
			Name:      "navigations_recorded_total",
			Help:      "Navigation events appended to a session, by navigation type.",
		}, []string{"type"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "navtrace",
			Name:      "events_dropped_total",
			Help:      "Posted events that did not change the location or were not a real location.",
		}),
		sessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "navtrace",
			Name:      "sessions_opened_total",
			Help:      "Sessions first seen by the collector.",
		}),
		finalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "navtrace",
			Name:      "sessions_finalized_total",
			Help:      "Finalize requests for known sessions.",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
