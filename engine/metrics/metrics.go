// Package metrics exposes Prometheus instrumentation for the retrieval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RefreshTotal counts entity refresh attempts by kind and outcome.
	// Outcomes: updated, skipped (already fresh), failed.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fablecraft",
		Subsystem: "embedding",
		Name:      "refresh_total",
		Help:      "Entity embedding refresh attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ProviderCallsTotal counts embedding provider calls by outcome.
	ProviderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fablecraft",
		Subsystem: "embedding",
		Name:      "provider_calls_total",
		Help:      "Embedding provider calls by outcome.",
	}, []string{"outcome"})

	// SearchDuration observes hybrid search latency by entity kind.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fablecraft",
		Subsystem: "retrieval",
		Name:      "search_duration_seconds",
		Help:      "Hybrid search latency by entity kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// SearchDegradedTotal counts queries that fell back to lexical-only
	// scoring because the query text could not be embedded.
	SearchDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fablecraft",
		Subsystem: "retrieval",
		Name:      "search_degraded_total",
		Help:      "Searches degraded to lexical-only scoring.",
	})
)
