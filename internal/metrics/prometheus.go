package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HubEvents counts events fanned out by the hub.
	HubEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statshub_hub_events_total",
			Help: "Total number of events broadcast by the hub",
		},
		[]string{"type"},
	)

	AgentStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statshub_agent_status_total",
			Help: "Agent connection status events by agent and status",
		},
		[]string{"agent_id", "status"},
	)

	// InboundDropped counts agent messages that produced no event.
	InboundDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statshub_inbound_dropped_total",
			Help: "Agent messages dropped before reaching the hub",
		},
		[]string{"agent_id", "reason"},
	)

	AgentReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statshub_agent_reconnects_total",
			Help: "Reconnect attempts scheduled per agent",
		},
		[]string{"agent_id"},
	)

	AgentCPU = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statshub_agent_cpu_pct",
			Help: "Latest aggregate CPU percentage reported by each agent",
		},
		[]string{"agent_id"},
	)

	HistorySamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statshub_history_samples",
			Help: "Samples currently retained in each agent's CPU history window",
		},
		[]string{"agent_id"},
	)

	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statshub_active_sessions",
			Help: "Observer sessions currently attached",
		},
		[]string{"transport"},
	)

	SlowSubscribers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "statshub_slow_subscribers_total",
			Help: "Sessions torn down because their send queue overflowed",
		},
	)

	RelayOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statshub_relay_operations_total",
			Help: "Redis relay operations",
		},
		[]string{"operation", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "statshub_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)
