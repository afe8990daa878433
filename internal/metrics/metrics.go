package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger event metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_ledger_events_total",
			Help: "Total number of ledger events consumed",
		},
		[]string{"kind"},
	)

	EventsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_ledger_events_deduplicated_total",
			Help: "Total number of duplicate ledger events suppressed",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_ledger_events_dropped_total",
			Help: "Total number of ledger events dropped",
		},
		[]string{"reason"},
	)

	// Orchestrator metrics
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_agreement_transitions_total",
			Help: "Total number of agreement status transitions",
		},
		[]string{"from", "to"},
	)

	SettlementRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_runs_total",
			Help: "Total number of settlement runs",
		},
		[]string{"result"},
	)

	// Reward metrics
	RewardsByOutcome = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_rewards_total",
			Help: "Total number of reward records by final outcome",
		},
		[]string{"outcome"},
	)

	RewardAmount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_reward_amount_total",
			Help: "Total confirmed reward amount",
		},
	)

	// Distributor metrics
	DistributorInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_distributor_in_flight",
			Help: "Current number of in-flight reward sends",
		},
	)

	DistributorDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_distributor_send_duration_seconds",
			Help:    "Duration of individual reward sends in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Access gate metrics
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_access_decisions_total",
			Help: "Total number of access gate decisions",
		},
		[]string{"result"},
	)

	OwnershipCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_ownership_cache_hits_total",
			Help: "Total number of ownership cache hits",
		},
	)

	OwnershipCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_ownership_cache_misses_total",
			Help: "Total number of ownership cache misses",
		},
	)

	// Ledger gateway metrics
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_gateway_calls_total",
			Help: "Total number of ledger gateway calls",
		},
		[]string{"operation", "status"},
	)

	GatewayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_gateway_call_duration_seconds",
			Help:    "Duration of ledger gateway calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
