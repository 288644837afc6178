// Package metrics registers the Prometheus instruments for the observation
// pipeline and serves them over /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shelter"

// Metrics holds every instrument the pipeline updates. Components receive
// the whole struct and touch the fields they own.
type Metrics struct {
	registry *prometheus.Registry

	// Ingest
	ObservationsIngested *prometheus.CounterVec // by object_type
	IngestRejected       *prometheus.CounterVec // by field
	IngestRetries        prometheus.Counter
	DegradedWrites       prometheus.Counter
	IngestDegraded       prometheus.Gauge // 1 while the degraded flag is raised
	RateLimited          prometheus.Counter

	// Feed
	FeedPublished   prometheus.Counter
	FeedDropped     prometheus.Counter
	FeedSubscribers prometheus.Gauge

	// Synchronizer
	SyncCatchUps   prometheus.Counter
	SyncDuplicates prometheus.Counter
	SyncReconnects prometheus.Counter

	// Workers
	CaptureTicks   prometheus.Counter
	ScanDuration   prometheus.Summary
	RollupRuns     *prometheus.CounterVec // by status
	RollupDuration prometheus.Summary
}

// New builds and registers the pipeline instruments on a fresh registry.
// Each call owns its own registry, so tests can build as many as they like
// without duplicate-registration panics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.ObservationsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "observations_ingested_total",
		Help:      "Observations committed to the store, by object type",
	}, []string{"object_type"})
	m.IngestRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_rejected_total",
		Help:      "Reports rejected by validation, by failing field",
	}, []string{"field"})
	m.IngestRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_retries_total",
		Help:      "Storage write retries on the ingest path",
	})
	m.DegradedWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_degraded_total",
		Help:      "Reports stored with the fallback location",
	})
	m.IngestDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ingest_degraded",
		Help:      "1 while storage writes are failing after retries",
	})
	m.RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_rate_limited_total",
		Help:      "Reports refused by the per-client rate limit",
	})

	m.FeedPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_published_total",
		Help:      "Observations fanned out to the live feed",
	})
	m.FeedDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_dropped_total",
		Help:      "Observations evicted from saturated subscriber queues",
	})
	m.FeedSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_subscribers",
		Help:      "Currently connected feed subscribers",
	})

	m.SyncCatchUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_catchups_total",
		Help:      "Catch-up queries run by state synchronizers",
	})
	m.SyncDuplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_duplicates_total",
		Help:      "Duplicate observations discarded by idempotent merge",
	})
	m.SyncReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_reconnects_total",
		Help:      "Feed reconnects performed by state synchronizers",
	})

	m.CaptureTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_ticks_total",
		Help:      "Detector scan cycles triggered",
	})
	m.ScanDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Time spent per detector scan cycle",
	})
	m.RollupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rollup_runs_total",
		Help:      "Daily rollup runs, by status",
	}, []string{"status"})
	m.RollupDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace: namespace,
		Name:      "rollup_duration_seconds",
		Help:      "Time spent per rollup pass",
	})

	reg.MustRegister(
		m.ObservationsIngested, m.IngestRejected, m.IngestRetries,
		m.DegradedWrites, m.IngestDegraded, m.RateLimited,
		m.FeedPublished, m.FeedDropped, m.FeedSubscribers,
		m.SyncCatchUps, m.SyncDuplicates, m.SyncReconnects,
		m.CaptureTicks, m.ScanDuration, m.RollupRuns, m.RollupDuration,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
