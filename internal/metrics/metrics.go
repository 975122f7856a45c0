// Package metrics exposes the client's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	// ConnectionState mirrors the transport state machine:
	// 0 disconnected, 1 connecting, 2 connected, 3 reconnecting.
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "comanda",
			Subsystem: "broker",
			Name:      "connection_state",
			Help:      "Current push connection state (0=disconnected 1=connecting 2=connected 3=reconnecting).",
		},
	)

	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "comanda",
			Subsystem: "broker",
			Name:      "reconnects_total",
			Help:      "Total number of scheduled reconnection attempts.",
		},
	)

	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comanda",
			Subsystem: "broker",
			Name:      "events_received_total",
			Help:      "Push events dispatched to handlers.",
		},
		[]string{"type"},
	)

	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "comanda",
			Subsystem: "broker",
			Name:      "events_dropped_total",
			Help:      "Push events dropped at the parse boundary.",
		},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "comanda",
			Subsystem: "board",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full board refreshes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
	)

	StaleRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "comanda",
			Subsystem: "board",
			Name:      "stale_refreshes_total",
			Help:      "Refresh results discarded because a newer refresh already applied.",
		},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "comanda",
			Subsystem: "board",
			Name:      "transitions_total",
			Help:      "Order transition commands issued.",
		},
		[]string{"to", "result"},
	)
)

func init() {
	Registry.MustRegister(
		ConnectionState,
		Reconnects,
		EventsReceived,
		EventsDropped,
		RefreshDuration,
		StaleRefreshes,
		Transitions,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
