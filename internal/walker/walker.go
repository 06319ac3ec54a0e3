// Package walker performs the parallel directory traversal described in
// spec.md §4.3: a bounded worker pool walks each root, applies hidden/
// symlink/ignore policy, and emits one model.FileEntry per discovered
// regular file on a buffered channel. Every path is emitted, including
// every hardlinked sibling of a given (device, inode) — hardlink
// coalescence down to the shortest canonical path is internal/result's
// job (spec.md §4.10), not the walker's, so which path "wins" never
// depends on goroutine scheduling. Grounded on
// phase0/internal/watcher's filepath.Walk + channel idiom and the
// channel-fan-out worker pool shape from the dedupe reference walker
// under other_examples/.
package walker

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/duplisweep/duplisweep/internal/dmerrors"
	"github.com/duplisweep/duplisweep/internal/logging"
	"github.com/duplisweep/duplisweep/internal/model"
	"github.com/duplisweep/duplisweep/internal/pathnorm"
)

// Options configures one traversal.
type Options struct {
	Roots          []string
	ReferenceRoots []string // canonical roots whose members are Protected
	FollowSymlinks bool
	IncludeHidden  bool
	Workers        int
	StrictMode     bool // promote per-entry errors to a fatal abort
	CategoryByExt  func(path string) model.Category

	// IgnorePatterns are gitignore-style patterns applied during
	// traversal itself (pruning whole subtrees), distinct from the
	// filter set's post-hoc glob/regex predicates applied after a
	// FileEntry already exists.
	IgnorePatterns []string
}

// Result is the outcome of a completed walk.
type Result struct {
	Errors []error // non-fatal, per-entry errors recorded during the walk
}

// Walk traverses every configured root and sends one model.FileEntry per
// discovered regular file on out, including every hardlinked sibling of a
// shared (device, inode) — callers that need hardlink coalescence (e.g.
// internal/result) get a stable, shortest-path-preferring answer that way
// instead of one decided by worker-goroutine scheduling order. Callers must
// drain out until it is closed. Walk closes out itself when the traversal
// is complete, even on error. It returns a fatal error if a root is
// unreadable, strict mode promotes a recorded error, or ctx is cancelled.
func Walk(ctx context.Context, opts Options, out chan<- model.FileEntry) (*Result, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 4
	}
	catFn := opts.CategoryByExt
	if catFn == nil {
		catFn = CategoryByExtension
	}

	canonicalRoots, err := canonicalize(opts.Roots, opts.FollowSymlinks)
	if err != nil {
		close(out)
		return nil, err
	}
	canonicalRefRoots, err := canonicalize(opts.ReferenceRoots, opts.FollowSymlinks)
	if err != nil {
		close(out)
		return nil, err
	}
	liveRoots := dropOverlapping(canonicalRoots)
	visited := NewVisitedSet()

	var ignore *gitignore.GitIgnore
	if len(opts.IgnorePatterns) > 0 {
		ignore = gitignore.CompileIgnoreLines(opts.IgnorePatterns...)
	}

	paths := make(chan string)
	results := make(chan walkOutcome)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			statWorker(ctx, paths, results, catFn, canonicalRefRoots, opts.FollowSymlinks)
		}()
	}

	feedErrc := make(chan error, 1)
	go func() {
		feedErrc <- feedPaths(ctx, liveRoots, opts.IncludeHidden, opts.FollowSymlinks, ignore, visited, paths)
		close(paths)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &Result{}
	var fatal error

consume:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break consume
			}
			if r.err != nil {
				res.Errors = append(res.Errors, r.err)
				if opts.StrictMode {
					fatal = dmerrors.Wrap(dmerrors.CodeStrictModeAbort, "strict mode: aborting on entry error", r.path, r.err)
				}
				continue
			}
			select {
			case out <- r.entry:
			case <-ctx.Done():
				fatal = dmerrors.Wrap(dmerrors.CodeCancelled, "cancelled while emitting entry", r.path, ctx.Err())
			}
		case <-ctx.Done():
			fatal = dmerrors.Wrap(dmerrors.CodeCancelled, "walk cancelled", "", ctx.Err())
			break consume
		}
	}
	close(out)

	if walkErr := <-feedErrc; walkErr != nil && fatal == nil {
		fatal = walkErr
	}
	return res, fatal
}

func canonicalize(roots []string, followSymlinks bool) ([]string, error) {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		c, err := pathnorm.Canonicalize(r, pathnorm.Options{FollowSymlinks: followSymlinks})
		if err != nil {
			return nil, dmerrors.Wrap(dmerrors.CodeWalkRoot, "cannot canonicalize root", r, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// dropOverlapping removes any root that is nested under another configured
// root, per spec.md §4.3 ("a file reachable via multiple roots is emitted
// at most once").
func dropOverlapping(roots []string) []string {
	keep := make([]string, 0, len(roots))
	for i, r := range roots {
		nested := false
		for j, other := range roots {
			if i == j {
				continue
			}
			if other != r && pathnorm.IsUnder(other, r) {
				nested = true
				break
			}
		}
		if !nested {
			keep = append(keep, r)
		}
	}
	return keep
}

func feedPaths(ctx context.Context, roots []string, includeHidden, followSymlinks bool, ignore *gitignore.GitIgnore, visited *VisitedSet, paths chan<- string) error {
	for _, root := range roots {
		if err := walkOneRoot(ctx, root, includeHidden, followSymlinks, ignore, visited, paths); err != nil {
			return err
		}
	}
	return nil
}

func walkOneRoot(ctx context.Context, root string, includeHidden, followSymlinks bool, ignore *gitignore.GitIgnore, visited *VisitedSet, paths chan<- string) error {
	info, err := os.Stat(root)
	if err != nil {
		return dmerrors.Wrap(dmerrors.CodeWalkRoot, "root unreadable", root, err)
	}
	if !info.IsDir() {
		select {
		case paths <- root:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	visited.Enter(identityOf(root, info))

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			logging.Warn("walk: skipping unreadable entry", logging.String("path", path), logging.Err(err))
			return nil // non-fatal: logged and skipped, traversal continues; not added to Result.Errors, so strict mode does not see it
		}
		if !includeHidden && isHidden(d.Name()) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore != nil {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil && ignore.MatchesPath(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.Type()&os.ModeSymlink != 0 && followSymlinks {
			return followSymlinkEntry(ctx, path, includeHidden, followSymlinks, ignore, visited, paths)
		}
		if d.IsDir() {
			return nil
		}
		select {
		case paths <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

// followSymlinkEntry resolves a symlink encountered mid-walk. Directory
// targets are descended into manually (filepath.WalkDir never follows
// symlinks on its own), guarded by VisitedSet so a symlink cycle back to an
// already-entered directory terminates instead of recursing forever.
func followSymlinkEntry(ctx context.Context, path string, includeHidden, followSymlinks bool, ignore *gitignore.GitIgnore, visited *VisitedSet, paths chan<- string) error {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		logging.Warn("walk: broken symlink", logging.String("path", path), logging.Err(err))
		return nil
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil
	}
	if !info.IsDir() {
		select {
		case paths <- target:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if visited.Enter(identityOf(target, info)) {
		return nil // cycle: this directory identity has already been walked
	}
	return walkOneRoot(ctx, target, includeHidden, followSymlinks, ignore, visited, paths)
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

type walkOutcome struct {
	path  string
	entry model.FileEntry
	err   error
}

func statWorker(ctx context.Context, paths <-chan string, results chan<- walkOutcome, catFn func(string) model.Category, refRoots []string, followSymlinks bool) {
	for path := range paths {
		entry, err := statEntry(path, catFn, refRoots, followSymlinks)
		out := walkOutcome{path: path}
		if err != nil {
			out.err = dmerrors.Wrap(dmerrors.CodeWalkEntry, "stat failed", path, err)
		} else {
			out.entry = entry
		}
		select {
		case results <- out:
		case <-ctx.Done():
			return
		}
	}
}

func statEntry(path string, catFn func(string) model.Category, refRoots []string, followSymlinks bool) (model.FileEntry, error) {
	var fi os.FileInfo
	var err error
	if followSymlinks {
		fi, err = os.Stat(path)
	} else {
		fi, err = os.Lstat(path)
	}
	if err != nil {
		return model.FileEntry{}, err
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		// Symlinks are only reachable here when not following; such
		// entries are not regular files and carry no content to hash.
		return model.FileEntry{}, dmerrors.New(dmerrors.CodeWalkEntry, "symlink skipped (not following)", path)
	}
	if !fi.Mode().IsRegular() {
		return model.FileEntry{}, dmerrors.New(dmerrors.CodeWalkEntry, "not a regular file", path)
	}

	canonical, err := pathnorm.Canonicalize(path, pathnorm.Options{})
	if err != nil {
		return model.FileEntry{}, err
	}

	id := identityOf(path, fi)
	mtime := fi.ModTime()
	entry := model.FileEntry{
		Path:      canonical,
		Size:      uint64(fi.Size()),
		MTimeSec:  mtime.Unix(),
		MTimeNsec: int64(mtime.Nanosecond()),
		Identity:  id,
		Category:  catFn(canonical),
	}
	for _, root := range refRoots {
		if pathnorm.IsUnder(root, canonical) {
			entry.Protected = true
			break
		}
	}
	return entry, nil
}

// CategoryByExtension classifies a file by its extension, per spec.md §3.
func CategoryByExtension(path string) model.Category {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp", ".tiff", ".heic":
		return model.CategoryImage
	case ".mp4", ".mov", ".mkv", ".avi", ".webm":
		return model.CategoryVideo
	case ".mp3", ".flac", ".wav", ".aac", ".ogg", ".m4a":
		return model.CategoryAudio
	case ".txt", ".pdf", ".docx", ".doc", ".odt", ".md":
		return model.CategoryDocument
	case ".zip", ".tar", ".gz", ".7z", ".rar", ".bz2", ".xz":
		return model.CategoryArchive
	default:
		return model.CategoryOther
	}
}
