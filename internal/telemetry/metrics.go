package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every handler.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "capiswitch",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// PipelineStageDuration is the histogram for call-pipeline stage durations.
// It is registered, but no code path records to it.
var PipelineStageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "capiswitch",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Call pipeline per-stage duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"stage"},
)

// PipelineOutcomesTotal is the counter for calls by final pipeline outcome.
// It is registered, but no code path increments it.
var PipelineOutcomesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "pipeline",
		Name:      "outcomes_total",
		Help:      "Total number of calls by terminal outcome (logged, rejected, failed).",
	},
	[]string{"capability", "outcome", "kind"},
)

// QuotedSatsTotal is the counter for quoted satoshis by capability. It is
// registered, but no code path increments it.
var QuotedSatsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "pipeline",
		Name:      "quoted_sats_total",
		Help:      "Total quoted satoshis by capability.",
	},
	[]string{"capability"},
)

// ChargedSatsTotal is the counter for finalized (charged) satoshis by
// capability. It is registered, but no code path increments it.
var ChargedSatsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "pipeline",
		Name:      "charged_sats_total",
		Help:      "Total charged satoshis by capability.",
	},
	[]string{"capability"},
)

// InvoicesSettledTotal is the counter for invoices credited by the settler.
// It is registered, but the settler does not increment it.
var InvoicesSettledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "settlement",
		Name:      "invoices_settled_total",
		Help:      "Total number of Lightning invoices credited to a wallet.",
	},
)

// CheckoutsCompletedTotal is the counter for credited card checkout sessions.
// It is registered, but the checkout settler does not increment it.
var CheckoutsCompletedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "settlement",
		Name:      "checkouts_completed_total",
		Help:      "Total number of card checkout sessions credited to a wallet.",
	},
)

// RateRefreshTotal counts pricing oracle refresh attempts by outcome.
var RateRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "capiswitch",
		Subsystem: "pricing",
		Name:      "rate_refresh_total",
		Help:      "Total BTC/USD rate refresh attempts by provider and outcome.",
	},
	[]string{"provider", "outcome"},
)

// All returns every capiswitch-specific metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		PipelineStageDuration,
		PipelineOutcomesTotal,
		QuotedSatsTotal,
		ChargedSatsTotal,
		InvoicesSettledTotal,
		CheckoutsCompletedTotal,
		RateRefreshTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors
// plus every capiswitch collector.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
