// Package duplisweep is a library for finding duplicate and similar files
// across one or more filesystem roots. It walks the given roots, applies
// filter rules, and runs a staged equivalence pipeline (size bucketing,
// Bloom prefiltering, content hashing, optional byte-compare) plus
// optional perceptual-image and document-similarity branches, returning a
// versioned Session describing every duplicate group found.
//
// The package intentionally does not parse CLI flags, render a TUI, or
// delete anything — those are external collaborators; see cmd/duplisweep
// for a minimal driver that exercises this API.
package duplisweep

import (
	"context"

	"github.com/duplisweep/duplisweep/internal/engine"
	"github.com/duplisweep/duplisweep/internal/filterset"
	"github.com/duplisweep/duplisweep/internal/model"
)

// Options configures one scan. See internal/engine.Options for field
// semantics; this is a thin re-export so callers never need to import an
// internal package.
type Options = engine.Options

// Filter is the predicate chain applied to every discovered file.
type Filter = filterset.Set

// Session is the versioned result of a completed scan.
type Session = model.Session

// DuplicateGroup is one set of files sharing a common group key.
type DuplicateGroup = model.DuplicateGroup

// FileEntry is one discovered, filtered file.
type FileEntry = model.FileEntry

// Run executes a full scan and returns the resulting Session, or an error
// if the configuration is invalid or the scan could not complete.
func Run(ctx context.Context, opts Options) (*Session, error) {
	return engine.Run(ctx, opts)
}
