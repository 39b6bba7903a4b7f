// Package metrics holds the engine's Prometheus collectors. Everything
// the error taxonomy surfaces "only as a metric" lands here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_cache_hits_total",
		Help: "Artifact lookups answered without a rendering call.",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_cache_misses_total",
		Help: "Artifact lookups that entered the generation path.",
	}, []string{"kind"})

	GenerationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forecast_generation_timeouts_total",
		Help: "Rendering calls that exceeded the latency budget.",
	})

	DegradedServes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_degraded_serves_total",
		Help: "Requests answered with the static fallback template.",
	}, []string{"kind"})

	StorageConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "forecast_storage_conflicts_total",
		Help: "Lost uniqueness-key races resolved by re-reading the winner.",
	})

	AdviceDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advice_denied_total",
		Help: "Emergency advice submissions denied by the eligibility window.",
	})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_delivery_failures_total",
		Help: "Outbound deliveries that failed (before retry accounting).",
	})

	DeliveryExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_delivery_exhausted_total",
		Help: "Intents terminally failed after the retry budget.",
	})

	RenderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "render_latency_seconds",
		Help:    "Latency of rendering gateway calls.",
		Buckets: prometheus.DefBuckets,
	})
)
