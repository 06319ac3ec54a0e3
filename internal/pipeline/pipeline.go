// Package pipeline orchestrates the staged equivalence engine described in
// spec.md §4.9/§5: size bucketing, two Bloom admission filters, prefix and
// full content hashing, optional paranoid byte-compare, and the perceptual
// image/document similarity branches, all running under a bounded
// work-stealing pool (golang.org/x/sync/errgroup, mirroring the
// semaphore-bounded fan-out steveyegge-vc's AI supervisor uses for its own
// concurrent API calls).
package pipeline

import (
	"context"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/duplisweep/duplisweep/internal/bktree"
	"github.com/duplisweep/duplisweep/internal/bloom"
	"github.com/duplisweep/duplisweep/internal/dmerrors"
	"github.com/duplisweep/duplisweep/internal/dmetrics"
	"github.com/duplisweep/duplisweep/internal/filterset"
	"github.com/duplisweep/duplisweep/internal/fingerprint"
	"github.com/duplisweep/duplisweep/internal/hasher"
	"github.com/duplisweep/duplisweep/internal/hashcache"
	"github.com/duplisweep/duplisweep/internal/model"
	"github.com/duplisweep/duplisweep/internal/phash"
)

// Mode selects which detection branches run in one pipeline invocation.
type Mode struct {
	Exact            bool
	SimilarImages    bool
	SimilarDocuments bool
	Paranoid         bool
	MMap             bool
}

// Options configures one pipeline run.
type Options struct {
	Filter              *filterset.Set
	Cache               *hashcache.Cache // nil or Disabled == cache-less
	IOThreads           int
	SimilarityThreshold int
	Mode                Mode
	Metrics             *dmetrics.Counters
}

// Outcome is the raw candidate material handed to the result assembler.
// Buckets/clusters here are not yet reference-protection-filtered or
// sorted; that policy lives in internal/result.
type Outcome struct {
	ExactBuckets     map[model.Digest][]model.FileEntry
	ImageClusters    [][]model.FileEntry
	DocumentClusters [][]model.FileEntry
	Errors           []error
}

func ioThreads(n int) int {
	if n < 1 {
		return 4
	}
	return n
}

func similarityThreshold(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}

// Run drains entries, applies the filter set, and executes every enabled
// branch in opts.Mode. It returns once entries is closed, ctx is
// cancelled, or a fatal (non-per-entry) error occurs.
func Run(ctx context.Context, entries <-chan model.FileEntry, opts Options) (*Outcome, error) {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = dmetrics.NewCounters()
	}
	threads := ioThreads(opts.IOThreads)
	threshold := similarityThreshold(opts.SimilarityThreshold)

	out := &Outcome{ExactBuckets: make(map[model.Digest][]model.FileEntry)}
	var errMu sync.Mutex
	recordErr := func(err error) {
		errMu.Lock()
		out.Errors = append(out.Errors, err)
		errMu.Unlock()
	}

	var candidates []model.FileEntry
	for entry := range entries {
		metrics.IncFilesIn()
		if opts.Filter != nil && !opts.Filter.Match(&entry) {
			metrics.IncFilesRejected()
			continue
		}
		candidates = append(candidates, entry)
	}
	select {
	case <-ctx.Done():
		return out, dmerrors.Wrap(dmerrors.CodeCancelled, "cancelled while assembling candidates", "", ctx.Err())
	default:
	}

	cacheWrites := newCacheRecorder()

	if opts.Mode.Exact {
		if err := runExactBranch(ctx, candidates, opts, threads, metrics, cacheWrites, out, recordErr); err != nil {
			cacheWrites.flush(ctx, opts.Cache, recordErr)
			return out, err
		}
	}
	if opts.Mode.SimilarImages {
		runImageBranch(ctx, candidates, opts.Cache, threads, threshold, cacheWrites, recordErr, out)
	}
	if opts.Mode.SimilarDocuments {
		runDocumentBranch(ctx, candidates, opts.Cache, threads, threshold, cacheWrites, recordErr, out)
	}

	cacheWrites.flush(ctx, opts.Cache, recordErr)
	return out, nil
}

func runExactBranch(
	ctx context.Context,
	candidates []model.FileEntry,
	opts Options,
	threads int,
	metrics *dmetrics.Counters,
	cacheWrites *cacheRecorder,
	out *Outcome,
	recordErr func(error),
) error {
	sizeFilter := bloom.NewSizeFilter(uint(len(candidates) + 1))
	for _, e := range candidates {
		sizeFilter.Observe(e.Size)
	}
	sizeFilter.Build()

	var admitted1 []model.FileEntry
	for _, e := range candidates {
		if sizeFilter.MaybePresent(e.Size) {
			admitted1 = append(admitted1, e)
		} else {
			metrics.IncBloomReject()
		}
	}

	prefixDigests := make([]model.Digest, len(admitted1))
	havePrefix := make([]bool, len(admitted1))
	if err := parallelFor(ctx, threads, len(admitted1), func(ctx context.Context, i int) error {
		e := admitted1[i]
		d, err := lookupOrComputePrefix(ctx, opts.Cache, &e, metrics, cacheWrites)
		if err != nil {
			recordErr(err)
			return nil
		}
		prefixDigests[i] = d
		havePrefix[i] = true
		return nil
	}); err != nil {
		return err
	}

	prehashFilter := bloom.NewPrehashFilter()
	for i, d := range prefixDigests {
		if havePrefix[i] {
			prehashFilter.Observe(d)
		}
	}
	prehashFilter.Build()

	var admitted2 []model.FileEntry
	for i, e := range admitted1 {
		if !havePrefix[i] {
			continue
		}
		if prehashFilter.MaybePresent(prefixDigests[i]) {
			admitted2 = append(admitted2, e)
		} else {
			metrics.IncBloomReject()
		}
	}

	fullDigests := make([]model.Digest, len(admitted2))
	haveFull := make([]bool, len(admitted2))
	if err := parallelFor(ctx, threads, len(admitted2), func(ctx context.Context, i int) error {
		e := admitted2[i]
		d, err := lookupOrComputeFull(ctx, opts.Cache, &e, opts.Mode.MMap, threads, metrics, cacheWrites)
		if err != nil {
			recordErr(err)
			return nil
		}
		fullDigests[i] = d
		haveFull[i] = true
		return nil
	}); err != nil {
		return err
	}

	buckets := make(map[model.Digest][]model.FileEntry)
	for i, e := range admitted2 {
		if haveFull[i] {
			buckets[fullDigests[i]] = append(buckets[fullDigests[i]], e)
		}
	}

	for digest, members := range buckets {
		if len(members) < 2 {
			continue
		}
		if opts.Mode.Paranoid {
			members = paranoidFilter(ctx, members, recordErr)
			if len(members) < 2 {
				continue
			}
		}
		out.ExactBuckets[digest] = members
	}
	return nil
}

func lookupOrComputePrefix(
	ctx context.Context,
	cache *hashcache.Cache,
	e *model.FileEntry,
	metrics *dmetrics.Counters,
	cacheWrites *cacheRecorder,
) (model.Digest, error) {
	if cache != nil && !cache.Disabled {
		if rec, ok := cache.Lookup(ctx, e); ok && rec.PrefixDigest != nil {
			metrics.IncCacheHit()
			return *rec.PrefixDigest, nil
		}
		metrics.IncCacheMiss()
	}
	d, err := hasher.PrefixDigest(ctx, e.Path)
	if err != nil {
		return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "prefix hash failed", e.Path, err)
	}
	cacheWrites.recordPrefix(e, d)
	return d, nil
}

func lookupOrComputeFull(
	ctx context.Context,
	cache *hashcache.Cache,
	e *model.FileEntry,
	useMmap bool,
	threads int,
	metrics *dmetrics.Counters,
	cacheWrites *cacheRecorder,
) (model.Digest, error) {
	if cache != nil && !cache.Disabled {
		if rec, ok := cache.Lookup(ctx, e); ok && rec.FullDigest != nil {
			metrics.IncCacheHit()
			return *rec.FullDigest, nil
		}
		metrics.IncCacheMiss()
	}
	d, err := hasher.FullDigest(ctx, e.Path, int64(e.Size), hasher.Options{UseMmap: useMmap, IOThreads: threads})
	if err != nil {
		return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "full hash failed", e.Path, err)
	}
	metrics.RecordHashed(e.Size)
	cacheWrites.recordFull(e, d)
	return d, nil
}

// paranoidFilter compares every member of a full-digest bucket against the
// first member in lockstep bytes; a mismatch drops that member from the
// group per spec.md §4.6/§7 ("mismatch demotes the pair").
func paranoidFilter(ctx context.Context, members []model.FileEntry, recordErr func(error)) []model.FileEntry {
	if len(members) < 2 {
		return members
	}
	rep := members[0]
	kept := []model.FileEntry{rep}
	for _, m := range members[1:] {
		eq, err := hasher.ParanoidEqual(ctx, rep.Path, m.Path)
		if err != nil {
			recordErr(dmerrors.Wrap(dmerrors.CodeParanoidMismatch, "paranoid compare failed", m.Path, err))
			continue
		}
		if eq {
			kept = append(kept, m)
		} else {
			recordErr(dmerrors.New(dmerrors.CodeParanoidMismatch, "full-hash equal but byte-compare disagreed", m.Path))
		}
	}
	return kept
}

func runImageBranch(
	ctx context.Context,
	candidates []model.FileEntry,
	cache *hashcache.Cache,
	threads, threshold int,
	cacheWrites *cacheRecorder,
	recordErr func(error),
	out *Outcome,
) {
	var images []model.FileEntry
	for _, e := range candidates {
		if e.Category == model.CategoryImage {
			images = append(images, e)
		}
	}
	if len(images) == 0 {
		return
	}

	fps := make([]uint64, len(images))
	ok := make([]bool, len(images))
	_ = parallelFor(ctx, threads, len(images), func(ctx context.Context, i int) error {
		e := images[i]
		if cache != nil && !cache.Disabled {
			if rec, hit := cache.Lookup(ctx, &e); hit && rec.Perceptual != nil {
				fps[i] = *rec.Perceptual
				ok[i] = true
				return nil
			}
		}

		f, err := os.Open(e.Path)
		if err != nil {
			recordErr(dmerrors.Wrap(dmerrors.CodeDecodeImage, "open failed", e.Path, err))
			return nil
		}
		defer f.Close()

		img, err := phash.Decode(f, e.Path)
		if err != nil {
			recordErr(dmerrors.Wrap(dmerrors.CodeDecodeImage, "decode failed", e.Path, err))
			return nil
		}
		fp := uint64(phash.Compute(img, phash.PHash))
		fps[i] = fp
		ok[i] = true
		cacheWrites.recordPerceptual(&e, fp)
		return nil
	})

	items := make([]bktree.Item, 0, len(images))
	for i := range images {
		if ok[i] {
			items = append(items, bktree.Item{ID: i, Fingerprint: fps[i]})
		}
	}
	for _, cluster := range bktree.Cluster(items, phashDistance, threshold) {
		group := make([]model.FileEntry, 0, len(cluster))
		for _, idx := range cluster {
			group = append(group, images[idx])
		}
		out.ImageClusters = append(out.ImageClusters, group)
	}
}

func phashDistance(a, b uint64) int {
	return phash.HammingDistance(phash.Fingerprint(a), phash.Fingerprint(b))
}

func runDocumentBranch(
	ctx context.Context,
	candidates []model.FileEntry,
	cache *hashcache.Cache,
	threads, threshold int,
	cacheWrites *cacheRecorder,
	recordErr func(error),
	out *Outcome,
) {
	var docs []model.FileEntry
	for _, e := range candidates {
		if e.Category == model.CategoryDocument {
			docs = append(docs, e)
		}
	}
	if len(docs) == 0 {
		return
	}

	fps := make([]uint64, len(docs))
	ok := make([]bool, len(docs))
	_ = parallelFor(ctx, threads, len(docs), func(ctx context.Context, i int) error {
		e := docs[i]
		if cache != nil && !cache.Disabled {
			if rec, hit := cache.Lookup(ctx, &e); hit && rec.SimHash != nil {
				fps[i] = *rec.SimHash
				ok[i] = true
				return nil
			}
		}

		text, err := fingerprint.ExtractText(e.Path)
		if err != nil {
			recordErr(dmerrors.Wrap(dmerrors.CodeDecodeDocument, "text extraction failed", e.Path, err))
			return nil
		}
		fp := uint64(fingerprint.SimHash(text))
		fps[i] = fp
		ok[i] = true
		cacheWrites.recordSimHash(&e, fp)
		return nil
	})

	items := make([]bktree.Item, 0, len(docs))
	for i := range docs {
		if ok[i] {
			items = append(items, bktree.Item{ID: i, Fingerprint: fps[i]})
		}
	}
	for _, cluster := range bktree.Cluster(items, simhashDistance, threshold) {
		group := make([]model.FileEntry, 0, len(cluster))
		for _, idx := range cluster {
			group = append(group, docs[idx])
		}
		out.DocumentClusters = append(out.DocumentClusters, group)
	}
}

func simhashDistance(a, b uint64) int {
	return fingerprint.HammingDistance(fingerprint.Fingerprint(a), fingerprint.Fingerprint(b))
}

// parallelFor runs fn(i) for i in [0,n) under a pool bounded to concurrency
// concurrent goroutines, cancelling the remaining work on the first error
// fn returns and on ctx cancellation.
func parallelFor(ctx context.Context, concurrency, n int, fn func(ctx context.Context, i int) error) error {
	if n == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, i)
		})
	}
	return g.Wait()
}
