package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_provider_calls_total",
			Help: "Total provider invocations by provider, task and outcome",
		},
		[]string{"provider", "task", "outcome"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "relay_provider_latency_seconds",
			Help: "Provider invocation latency in seconds",
		},
		[]string{"provider", "task"},
	)

	DegradedResults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_degraded_results_total",
			Help: "Results produced only by the deterministic fallback",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Relay envelopes processed by kind",
		},
		[]string{"kind"},
	)

	LiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_live_connections",
			Help: "Number of open relay connections",
		},
	)

	TranslateRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_translate_requests_total",
			Help: "Total number of REST translate requests",
		},
		[]string{"status"},
	)
)
