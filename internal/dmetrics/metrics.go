// Package dmetrics tracks per-phase counters and throughput for the
// duplicate-detection pipeline, exposed both as Prometheus collectors (for
// long-running embeddings) and as a plain Snapshot for callers that just
// want current numbers (e.g. a TUI, which is out of scope for this module
// but still needs a value to render).
package dmetrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesInTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_files_in_total",
		Help: "Total files seen by the walker.",
	})
	filesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_files_rejected_total",
		Help: "Total files rejected by the filter set.",
	})
	filesHashedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_files_hashed_total",
		Help: "Total files for which a hash phase actually ran.",
	})
	bytesHashedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_bytes_hashed_total",
		Help: "Total bytes read by hash phases.",
	})
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_cache_hits_total",
		Help: "Total hash-cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_cache_misses_total",
		Help: "Total hash-cache misses.",
	})
	bloomRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duplisweep_bloom_rejects_total",
		Help: "Total files short-circuited by a Bloom admission filter.",
	})
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "duplisweep_scan_duration_seconds",
		Help:    "Wall-clock duration of a full scan.",
		Buckets: prometheus.DefBuckets,
	})
)

// Counters holds the atomic, process-wide phase counters described in
// spec.md §4.11. Counters are strictly additive; no business logic may
// branch on their value mid-pipeline.
type Counters struct {
	FilesIn       atomic.Uint64
	FilesRejected atomic.Uint64
	FilesHashed   atomic.Uint64
	BytesHashed   atomic.Uint64
	CacheHits     atomic.Uint64
	CacheMisses   atomic.Uint64
	BloomRejects  atomic.Uint64

	ema *emaThroughput
}

// NewCounters returns a fresh counter set with a throughput EMA over a
// 2-second window, per spec.md §4.11.
func NewCounters() *Counters {
	return &Counters{ema: newEMAThroughput(2 * time.Second)}
}

func (c *Counters) IncFilesIn()            { c.FilesIn.Add(1); filesInTotal.Inc() }
func (c *Counters) IncFilesRejected()       { c.FilesRejected.Add(1); filesRejectedTotal.Inc() }
func (c *Counters) IncCacheHit()            { c.CacheHits.Add(1); cacheHitsTotal.Inc() }
func (c *Counters) IncCacheMiss()           { c.CacheMisses.Add(1); cacheMissesTotal.Inc() }
func (c *Counters) IncBloomReject()         { c.BloomRejects.Add(1); bloomRejectsTotal.Inc() }

// RecordHashed records that n bytes were hashed for one file and feeds the
// throughput EMA.
func (c *Counters) RecordHashed(n uint64) {
	c.FilesHashed.Add(1)
	c.BytesHashed.Add(n)
	filesHashedTotal.Inc()
	bytesHashedTotal.Add(float64(n))
	c.ema.observe(n)
}

// ObserveScanDuration records the wall-clock duration of a completed scan.
func ObserveScanDuration(d time.Duration) { scanDuration.Observe(d.Seconds()) }

// Throughput returns the current EMA throughput in bytes/sec.
func (c *Counters) Throughput() float64 { return c.ema.rate() }

// ETA estimates remaining time given remaining bytes, based on the current
// throughput EMA. Returns 0 if throughput is not yet established.
func (c *Counters) ETA(remainingBytes uint64) time.Duration {
	rate := c.ema.rate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(remainingBytes) / rate * float64(time.Second))
}

// Snapshot is a point-in-time, non-atomic copy of the counters suitable for
// rendering in a TUI or summary line.
type Snapshot struct {
	FilesIn       uint64
	FilesRejected uint64
	FilesHashed   uint64
	BytesHashed   uint64
	CacheHits     uint64
	CacheMisses   uint64
	BloomRejects  uint64
	ThroughputBPS float64
}

// Snapshot captures the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		FilesIn:       c.FilesIn.Load(),
		FilesRejected: c.FilesRejected.Load(),
		FilesHashed:   c.FilesHashed.Load(),
		BytesHashed:   c.BytesHashed.Load(),
		CacheHits:     c.CacheHits.Load(),
		CacheMisses:   c.CacheMisses.Load(),
		BloomRejects:  c.BloomRejects.Load(),
		ThroughputBPS: c.ema.rate(),
	}
}
