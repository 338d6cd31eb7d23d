// Package metrics provides Prometheus instrumentation for the relay chat
// server. It exposes gauges for connection counts, counters for message
// throughput and moderation activity, and a histogram for broadcast fan-out
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts processed messages, labeled by kind:
	// "chat", "system", "notification", "error", "dropped", "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages processed",
	}, []string{"kind"})

	// CensoredTotal counts chat messages whose text was altered by the
	// moderation filter before broadcast.
	CensoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_censored_messages_total",
		Help: "Total number of chat messages altered by the moderation filter",
	})

	// RenamesTotal counts username change attempts, labeled by outcome:
	// "ok", "invalid", "taken".
	RenamesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_renames_total",
		Help: "Total number of username change attempts",
	}, []string{"outcome"})

	// BroadcastDuration records the time spent fanning one envelope out to
	// all recipients.
	BroadcastDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_broadcast_duration_seconds",
		Help:    "Time spent delivering one envelope to all recipients",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		CensoredTotal,
		RenamesTotal,
		BroadcastDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
