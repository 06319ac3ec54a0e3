package pipeline

import (
	"context"
	"sync"

	"github.com/duplisweep/duplisweep/internal/hashcache"
	"github.com/duplisweep/duplisweep/internal/model"
)

// cacheRecorder accumulates one CacheRecord per file path across every
// branch that touches it, so the cache write happens once at the end of
// the pipeline per spec.md §4.4 ("Writes are coalesced per-file") rather
// than once per phase.
type cacheRecorder struct {
	mu   sync.Mutex
	recs map[string]*model.CacheRecord
}

func newCacheRecorder() *cacheRecorder {
	return &cacheRecorder{recs: make(map[string]*model.CacheRecord)}
}

func (c *cacheRecorder) getOrInit(e *model.FileEntry) *model.CacheRecord {
	rec, ok := c.recs[e.Path]
	if !ok {
		rec = &model.CacheRecord{
			Path:      e.Path,
			Size:      e.Size,
			MTimeSec:  e.MTimeSec,
			MTimeNsec: e.MTimeNsec,
			Device:    e.Identity.Device,
			Inode:     e.Identity.Inode,
			Version:   model.CurrentSchemaVersion,
		}
		c.recs[e.Path] = rec
	}
	return rec
}

func (c *cacheRecorder) recordPrefix(e *model.FileEntry, d model.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dd := d
	c.getOrInit(e).PrefixDigest = &dd
}

func (c *cacheRecorder) recordFull(e *model.FileEntry, d model.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dd := d
	c.getOrInit(e).FullDigest = &dd
}

func (c *cacheRecorder) recordPerceptual(e *model.FileEntry, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vv := v
	c.getOrInit(e).Perceptual = &vv
}

func (c *cacheRecorder) recordSimHash(e *model.FileEntry, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vv := v
	c.getOrInit(e).SimHash = &vv
}

// flush writes every accumulated record to cache. A cache-less or disabled
// cache makes this a no-op; per-record write failures are reported via
// recordErr rather than aborting the flush.
func (c *cacheRecorder) flush(ctx context.Context, cache *hashcache.Cache, recordErr func(error)) {
	if cache == nil || cache.Disabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.recs {
		if err := cache.Store(ctx, *rec); err != nil {
			recordErr(err)
		}
	}
}
