// Package metrics exposes repo-level Prometheus instrumentation: commit
// and abort counts, chunk dedup ratio, cache hit rates, and WAL recovery
// counts. Shaped after the teacher's internal/metrics.Metrics — a struct
// of vectors built once via promauto, with plain Record* methods.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultRegistry mirrors the teacher's package-level default registerer.
var defaultRegistry = prometheus.DefaultRegisterer

// Metrics holds every repo-level counter/gauge/histogram.
type Metrics struct {
	txCommits   *prometheus.CounterVec
	txAborts    *prometheus.CounterVec
	txDuration  prometheus.Histogram

	chunksSeen    prometheus.Counter
	chunksDeduped prometheus.Counter

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheEvicts *prometheus.CounterVec

	walRecoveries    prometheus.Counter
	walHotRedos      prometheus.Counter
	walColdRedos     prometheus.Counter
	walRecoveryTime  prometheus.Histogram

	segmentShrinks prometheus.Counter
	armSwaps       *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default
// Prometheus registerer.
func New() *Metrics {
	return NewWithRegistry(defaultRegistry)
}

// NewWithRegistry creates a Metrics instance against a custom registerer,
// used in tests to avoid collisions with the global default registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		txCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_tx_commits_total",
				Help: "Total number of committed transactions, by cohort kind.",
			},
			[]string{"cohort"},
		),
		txAborts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_tx_aborts_total",
				Help: "Total number of aborted transactions, by cohort kind.",
			},
			[]string{"cohort"},
		),
		txDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sealedfs_tx_duration_seconds",
				Help:    "Transaction lifetime from Begin to Commit/Abort.",
				Buckets: prometheus.DefBuckets,
			},
		),
		chunksSeen: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_chunks_seen_total",
				Help: "Total number of content-defined chunks produced by the chunker.",
			},
		),
		chunksDeduped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_chunks_deduped_total",
				Help: "Total number of chunks resolved against an existing chunk map entry instead of being packed fresh.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_cache_hits_total",
				Help: "Cache hits, by cache name (frame, segment, fnode).",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_cache_misses_total",
				Help: "Cache misses, by cache name.",
			},
			[]string{"cache"},
		),
		cacheEvicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_cache_evictions_total",
				Help: "Cache evictions, by cache name.",
			},
			[]string{"cache"},
		),
		walRecoveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_wal_recoveries_total",
				Help: "Total number of times crash recovery ran on open.",
			},
		),
		walHotRedos: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_wal_hot_redos_total",
				Help: "Total number of aborting transactions replayed during recovery.",
			},
		),
		walColdRedos: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_wal_cold_redos_total",
				Help: "Total number of doing transactions replayed during recovery (crash mid-commit).",
			},
		),
		walRecoveryTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sealedfs_wal_recovery_duration_seconds",
				Help:    "Wall time spent in Recover on open.",
				Buckets: prometheus.DefBuckets,
			},
		),
		segmentShrinks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sealedfs_segment_shrinks_total",
				Help: "Total number of segments repacked via content.ShrinkSegment.",
			},
		),
		armSwaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sealedfs_arm_swaps_total",
				Help: "Total number of A/B armor swaps, by entity kind.",
			},
			[]string{"kind"},
		),
	}
}

// RecordCommit records a committed transaction for a cohort kind (e.g.
// "cow", "direct") along with how long it was open.
func (m *Metrics) RecordCommit(cohort string, seconds float64) {
	m.txCommits.WithLabelValues(cohort).Inc()
	m.txDuration.Observe(seconds)
}

// RecordAbort records an aborted transaction for a cohort kind.
func (m *Metrics) RecordAbort(cohort string, seconds float64) {
	m.txAborts.WithLabelValues(cohort).Inc()
	m.txDuration.Observe(seconds)
}

// RecordChunk records one chunk emitted by the chunker, and whether it
// resolved against an existing chunk map entry (deduped) or was packed
// fresh.
func (m *Metrics) RecordChunk(deduped bool) {
	m.chunksSeen.Inc()
	if deduped {
		m.chunksDeduped.Inc()
	}
}

// RecordCacheHit records a cache hit for a named cache.
func (m *Metrics) RecordCacheHit(cache string) { m.cacheHits.WithLabelValues(cache).Inc() }

// RecordCacheMiss records a cache miss for a named cache.
func (m *Metrics) RecordCacheMiss(cache string) { m.cacheMisses.WithLabelValues(cache).Inc() }

// RecordCacheEviction records an LRU eviction for a named cache.
func (m *Metrics) RecordCacheEviction(cache string) { m.cacheEvicts.WithLabelValues(cache).Inc() }

// RecordRecovery records one run of crash recovery: how many hot-redo
// (aborting) and cold-redo (doing) transactions it replayed, and how
// long it took.
func (m *Metrics) RecordRecovery(hotRedos, coldRedos int, seconds float64) {
	m.walRecoveries.Inc()
	m.walHotRedos.Add(float64(hotRedos))
	m.walColdRedos.Add(float64(coldRedos))
	m.walRecoveryTime.Observe(seconds)
}

// RecordSegmentShrink records one segment repack.
func (m *Metrics) RecordSegmentShrink() { m.segmentShrinks.Inc() }

// RecordArmSwap records one A/B armor swap for an entity kind.
func (m *Metrics) RecordArmSwap(kind string) { m.armSwaps.WithLabelValues(kind).Inc() }

// Handler returns the HTTP handler to expose /metrics. It serves the
// process-wide default Prometheus registry; metrics built with
// NewWithRegistry against another registry are not served by it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
