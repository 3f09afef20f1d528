package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livebench_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livebench_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Admission metrics
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_rate_limit_decisions_total",
			Help: "Total number of rate limit admission decisions",
		},
		[]string{"class", "decision"},
	)

	AuthDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_auth_denials_total",
			Help: "Total number of denied authentication attempts",
		},
		[]string{"class"},
	)

	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_audit_events_total",
			Help: "Total number of audit events by status and outcome",
		},
		[]string{"status", "result"},
	)

	// Simulation supervisor metrics
	SimulationsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livebench_simulations_started_total",
			Help: "Total number of simulation processes spawned",
		},
	)

	SimulationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_simulation_transitions_total",
			Help: "Total number of simulation record state transitions",
		},
		[]string{"to"},
	)

	// Live update metrics
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livebench_ws_connections_active",
			Help: "Number of currently registered websocket connections",
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_broadcasts_total",
			Help: "Total number of hub broadcasts by scope",
		},
		[]string{"scope"},
	)

	WatcherSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebench_watcher_sweeps_total",
			Help: "Total number of telemetry watcher sweeps",
		},
		[]string{"status"},
	)
)
