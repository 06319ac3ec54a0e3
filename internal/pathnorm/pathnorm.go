// Package pathnorm canonicalizes filesystem paths so that two FileEntry
// values referring to the same file always compare equal, per spec.md §4.1.
package pathnorm

import (
	"path/filepath"

	"golang.org/x/text/unicode/norm"
)

// Options controls canonicalization behavior.
type Options struct {
	// FollowSymlinks resolves symlinks to their target path via
	// filepath.EvalSymlinks. When false, symlinks are left unresolved.
	FollowSymlinks bool
}

// Canonicalize resolves p to an absolute, cleaned, Unicode-normalized path.
// On macOS the result is normalized to NFC to mask APFS's NFD on-disk
// storage; on every other platform NFC is applied defensively so that
// equal-looking paths from different sources always compare equal.
func Canonicalize(p string, opts Options) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(abs)

	if opts.FollowSymlinks {
		if resolved, err := filepath.EvalSymlinks(clean); err == nil {
			clean = resolved
		}
		// A broken symlink or permission error here is not fatal to
		// canonicalization: the walker will surface the stat failure
		// separately when it tries to read the entry.
	}

	return platformNormalize(clean), nil
}

// platformNormalize applies NFC: it masks APFS/HFS+'s NFD on-disk storage
// on macOS and is applied defensively everywhere else, per spec.md §4.1.
// Kept as its own function so a future Windows long-path seam (see
// SPEC_FULL.md §11) can slot in behind a build tag without touching call
// sites.
func platformNormalize(p string) string {
	return norm.NFC.String(p)
}

// Equal reports whether two paths are the same canonical file.
func Equal(a, b string) bool {
	return a == b
}

// IsUnder reports whether child is equal to or nested under root, both
// assumed already canonicalized. Used to detect overlapping scan roots and
// to evaluate reference-root protection.
func IsUnder(root, child string) bool {
	if root == child {
		return true
	}
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.' &&
		(len(rel) == 2 || rel[2] == filepath.Separator)
}
