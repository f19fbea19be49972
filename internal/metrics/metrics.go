// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_http_requests_total",
			Help: "HTTP requests served, by route pattern and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recon_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_provider_calls_total",
			Help: "Calls made to the settlement provider, by operation and result.",
		},
		[]string{"operation", "result"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recon_provider_call_duration_seconds",
			Help:    "Settlement provider call latency.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_cache_lookups_total",
			Help: "Typed cache lookups, by entry kind and hit or miss.",
		},
		[]string{"kind", "result"},
	)

	RateResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_rate_resolutions_total",
			Help: "Exchange rate resolutions, by source.",
		},
		[]string{"source"},
	)

	StatusUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_status_updates_total",
			Help: "Rank-guarded status update attempts, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	PollCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_poll_cycles_total",
			Help: "Completed reconciliation poll cycles.",
		},
	)

	PollCyclesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_poll_cycles_skipped_total",
			Help: "Poll cycles skipped because the previous cycle was still running.",
		},
	)

	PollLookupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_poll_lookup_failures_total",
			Help: "Per-transaction provider lookups that failed during a poll cycle.",
		},
	)

	InFlightTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recon_in_flight_transactions",
			Help: "Transactions awaiting a terminal provider status at the start of the last poll cycle.",
		},
	)

	PaymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_payments_created_total",
			Help: "Payment transactions created, by payment and settlement method.",
		},
		[]string{"payment_method", "settlement_method"},
	)
)

// Outcome labels shared by StatusUpdates.
const (
	OutcomeApplied   = "applied"
	OutcomeStale     = "stale"
	OutcomeUnchanged = "unchanged"
	OutcomeUntracked = "untracked"
	OutcomeError     = "error"
)
