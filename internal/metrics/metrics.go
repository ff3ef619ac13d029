// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var CallsInitiated = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auralis_calls_initiated_total",
		Help: "Outbound call initiations by outcome",
	},
	[]string{"outcome"},
)

var StatusTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auralis_call_status_transitions_total",
		Help: "Unified status transitions written to call records",
	},
	[]string{"source", "status"},
)

var WebhooksReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auralis_webhooks_received_total",
		Help: "Vendor webhooks by vendor, type and processing outcome",
	},
	[]string{"vendor", "type", "outcome"},
)

var VendorRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "auralis_vendor_request_duration_seconds",
		Help:    "Latency of vendor API requests",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	},
	[]string{"vendor", "operation"},
)

var ActiveWatchers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "auralis_call_watchers",
		Help: "Open live call watch connections",
	},
)

func init() {
	prometheus.MustRegister(
		CallsInitiated,
		StatusTransitions,
		WebhooksReceived,
		VendorRequestDuration,
		ActiveWatchers,
	)
}
