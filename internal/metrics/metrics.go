package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_live_connections",
			Help: "Number of open websocket connections.",
		},
	)

	OnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_online_users",
			Help: "Number of usernames with at least one live connection.",
		},
	)

	EventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_routed_total",
			Help: "Total number of routed events by type.",
		},
		[]string{"type"},
	)

	DeliveriesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_dropped_total",
			Help: "Live deliveries dropped because a connection send queue was full.",
		},
	)

	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_pushes_total",
			Help: "Push sends by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	DedupSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_dedup_suppressed_total",
			Help: "Events suppressed as duplicates by path.",
		},
		[]string{"path"},
	)

	CallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_calls_total",
			Help: "Calls by final status.",
		},
		[]string{"status", "type"},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors with the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
			LiveConnections,
			OnlineUsers,
			EventsRoutedTotal,
			DeliveriesDroppedTotal,
			PushesTotal,
			DedupSuppressedTotal,
			CallsTotal,
		)
	})
}
