package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session-core counters and histograms, partitioned by delivery channel
// where an event can arrive more than one way.

var (
	// Ingestion
	EventsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "events_observed_total",
		Help:      "Total raw event records observed across all channels",
	}, []string{"kind", "channel"})

	EventsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "events_accepted_total",
		Help:      "Total events accepted into the store (first observation)",
	}, []string{"kind"})

	EventsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "events_duplicate_total",
		Help:      "Total events discarded as duplicates of a known (kind, messageId)",
	}, []string{"kind", "channel"})

	EventsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "events_malformed_total",
		Help:      "Total raw records dropped as undecodable",
	}, []string{"kind"})

	BackfillRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "backfill_runs_total",
		Help:      "Total backfill range queries, by outcome",
	}, []string{"outcome"})

	BackfillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "backfill_duration_seconds",
		Help:      "Backfill query duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	PollRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "poll_runs_total",
		Help:      "Total response poll queries, by outcome",
	}, []string{"outcome"})

	OrphanResponses = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onchain_ai",
		Subsystem: "ingest",
		Name:      "orphan_responses",
		Help:      "Responses currently held without a locally known message event",
	})

	// Merge
	TranscriptBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "transcript",
		Name:      "builds_total",
		Help:      "Total transcript merges, by strategy",
	}, []string{"strategy"})

	CorrelationMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "transcript",
		Name:      "correlation_misses_total",
		Help:      "Conversation entries surfaced without a resolvable messageId",
	})

	// Submission
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "submit",
		Name:      "submissions_total",
		Help:      "Total message submissions, by outcome",
	}, []string{"outcome"})

	ConfirmationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "onchain_ai",
		Subsystem: "submit",
		Name:      "confirmation_duration_seconds",
		Help:      "Time from submission acknowledgment to confirmation",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total ledger RPC calls by method and status",
	}, []string{"method", "status"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "RPC calls delayed by the client-side rate limiter",
	})

	RPCBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "onchain_ai",
		Subsystem: "rpc",
		Name:      "breaker_state",
		Help:      "Circuit breaker state for the ledger RPC endpoint (0=closed, 1=open, 2=half-open)",
	})

	RPCBreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "rpc",
		Name:      "breaker_trips_total",
		Help:      "Times the ledger RPC circuit breaker opened",
	})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Alerts delivered, by channel and type",
	}, []string{"channel", "type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "onchain_ai",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Alerts suppressed by the per-type cooldown",
	}, []string{"channel", "type"})
)
