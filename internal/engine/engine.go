// Package engine is the single top-level orchestrator: it wires the
// walker, filter set, hash cache, and pipeline together, assembles the
// final result, and emits the versioned Session payload described in
// spec.md §6. The public duplisweep.go wrapper at the repo root is a thin
// pass-through to Run, grounded on the pack's thin cmd/server.go wiring
// style but exposed as a library call instead of a process entry point.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/duplisweep/duplisweep/internal/dmerrors"
	"github.com/duplisweep/duplisweep/internal/dmetrics"
	"github.com/duplisweep/duplisweep/internal/filterset"
	"github.com/duplisweep/duplisweep/internal/hashcache"
	"github.com/duplisweep/duplisweep/internal/logging"
	"github.com/duplisweep/duplisweep/internal/model"
	"github.com/duplisweep/duplisweep/internal/pipeline"
	"github.com/duplisweep/duplisweep/internal/result"
	"github.com/duplisweep/duplisweep/internal/walker"
)

// Options is the engine's invocation contract, per spec.md §6.
type Options struct {
	Roots          []string
	ReferenceRoots []string
	Filter         filterset.Set

	Exact            bool
	SimilarImages    bool
	SimilarDocuments bool
	Paranoid         bool
	MMap             bool

	CachePath           string // empty = no cache
	IOThreads           int
	SimilarityThreshold int
	FollowSymlinks      bool
	IncludeHidden       bool
	StrictMode          bool
	IgnorePatterns      []string

	ToolVersion string
}

// Run executes one full scan: walk, filter, detect, assemble, and return
// the versioned Session. It is the module's single public entry point.
func Run(ctx context.Context, opts Options) (*model.Session, error) {
	if len(opts.Roots) == 0 {
		return nil, dmerrors.New(dmerrors.CodeInvalidConfig, "at least one root is required", "")
	}
	if err := opts.Filter.Compile(); err != nil {
		return nil, dmerrors.Wrap(dmerrors.CodeInvalidConfig, "invalid filter configuration", "", err)
	}

	var cache *hashcache.Cache
	if opts.CachePath != "" {
		cache = hashcache.Open(opts.CachePath)
		defer cache.Close()
	}

	metrics := dmetrics.NewCounters()
	started := time.Now()

	entries := make(chan model.FileEntry, 256)
	walkDone := make(chan struct{})
	var walkResult *walker.Result
	var walkErr error
	go func() {
		defer close(walkDone)
		walkResult, walkErr = walker.Walk(ctx, walker.Options{
			Roots:          opts.Roots,
			ReferenceRoots: opts.ReferenceRoots,
			FollowSymlinks: opts.FollowSymlinks,
			IncludeHidden:  opts.IncludeHidden,
			Workers:        opts.IOThreads,
			StrictMode:     opts.StrictMode,
			IgnorePatterns: opts.IgnorePatterns,
		}, entries)
	}()

	outcome, pipeErr := pipeline.Run(ctx, entries, pipeline.Options{
		Filter:              &opts.Filter,
		Cache:               cache,
		IOThreads:           opts.IOThreads,
		SimilarityThreshold: opts.SimilarityThreshold,
		Mode: pipeline.Mode{
			Exact:            opts.Exact,
			SimilarImages:    opts.SimilarImages,
			SimilarDocuments: opts.SimilarDocuments,
			Paranoid:         opts.Paranoid,
			MMap:             opts.MMap,
		},
		Metrics: metrics,
	})
	<-walkDone

	if walkErr != nil {
		return nil, walkErr
	}
	if pipeErr != nil {
		return nil, pipeErr
	}

	walkLog := logging.Named("walker")
	for _, err := range walkResult.Errors {
		walkLog.Warn("recorded a per-entry error", logging.Err(err))
	}
	pipeLog := logging.Named("pipeline")
	for _, err := range outcome.Errors {
		pipeLog.Warn("recorded a per-entry error", logging.Err(err))
	}
	if opts.StrictMode && (len(walkResult.Errors) > 0 || len(outcome.Errors) > 0) {
		return nil, dmerrors.New(dmerrors.CodeStrictModeAbort, "strict mode: recorded errors were promoted to fatal", "")
	}

	groups, stats := result.Assemble(outcome)
	logging.Info("scan complete",
		logging.Int("exact_groups", stats.ExactGroups),
		logging.Int("image_groups", stats.ImageGroups),
		logging.Int("document_groups", stats.DocumentGroups),
		logging.Uint64("files_in", metrics.FilesIn.Load()),
		logging.Uint64("files_hashed", metrics.FilesHashed.Load()),
	)

	finished := time.Now()
	dmetrics.ObserveScanDuration(finished.Sub(started))

	sess := &model.Session{
		SessionID:      model.NewSessionID(),
		ToolVersion:    opts.ToolVersion,
		SchemaVersion:  model.CurrentSchemaVersion,
		Roots:          opts.Roots,
		ReferenceRoots: opts.ReferenceRoots,
		Filter:         filterEcho(&opts.Filter),
		StartedAt:      started,
		FinishedAt:     finished,
		Groups:         groups,
	}
	digest, err := integrityDigest(sess)
	if err != nil {
		return nil, dmerrors.Wrap(dmerrors.CodeInvalidConfig, "failed to compute session integrity digest", "", err)
	}
	sess.IntegrityHex = digest

	return sess, nil
}

// filterEcho snapshots a filterset.Set into its serializable form for the
// Session payload.
func filterEcho(s *filterset.Set) model.FilterEcho {
	echo := model.FilterEcho{
		MinSize:     s.MinSize,
		MaxSize:     s.MaxSize,
		NewerThan:   s.NewerThan,
		OlderThan:   s.OlderThan,
		GlobInclude: s.GlobInclude,
		GlobExclude: s.GlobExclude,
	}
	for cat, enabled := range s.Categories {
		if enabled {
			echo.Categories = append(echo.Categories, cat.String())
		}
	}
	for _, re := range s.RegexInclude {
		echo.RegexInclude = append(echo.RegexInclude, re.String())
	}
	for _, re := range s.RegexExclude {
		echo.RegexExclude = append(echo.RegexExclude, re.String())
	}
	return echo
}

// integrityDigest computes a SHA-256 digest over the session's canonical
// JSON encoding (encoding/json already emits struct fields in declaration
// order and sorts map keys, so no separate canonicalization pass is
// needed), with IntegrityHex itself excluded from the hashed payload.
func integrityDigest(sess *model.Session) (string, error) {
	sess.IntegrityHex = ""
	data, err := json.Marshal(sess)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
