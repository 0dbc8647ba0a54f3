// Package metrics declares the Prometheus collectors of the matcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_runs_total",
			Help: "Total number of matching runs by outcome",
		},
		[]string{"outcome"},
	)

	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matcher_run_duration_seconds",
			Help:    "Duration of matching runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_decisions_total",
			Help: "Routing decisions by kind and urgency",
		},
		[]string{"kind", "urgency"},
	)

	DegradedRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_degraded_total",
			Help: "Degraded-mode fallbacks by component",
		},
		[]string{"component"},
	)

	EligibleCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matcher_eligible_candidates",
			Help:    "Number of candidates passing feasibility per run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_cache_requests_total",
			Help: "Cache lookups by table and result",
		},
		[]string{"table", "result"},
	)

	Reindexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_reindexed_total",
			Help: "Candidate reindex operations by result",
		},
		[]string{"result"},
	)

	CalibrationReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matcher_calibration_reloads_total",
			Help: "Calibration artifact reloads by result",
		},
		[]string{"result"},
	)
)

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)
