package walker

import (
	"sync"

	"github.com/duplisweep/duplisweep/internal/model"
)

// VisitedSet bounds symlink-cycle traversal by (device, inode): once a
// directory's identity has been entered, re-entering it (via a symlink
// loop) is a no-op rather than an infinite descent. Safe for concurrent
// use by multiple walker workers.
type VisitedSet struct {
	mu   sync.Mutex
	seen map[model.Identity]struct{}
}

// NewVisitedSet creates an empty set.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{seen: make(map[model.Identity]struct{})}
}

// Enter records id as visited and reports whether it was already present.
// A true return means the caller must not descend into it again.
func (v *VisitedSet) Enter(id model.Identity) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[id]; ok {
		return true
	}
	v.seen[id] = struct{}{}
	return false
}
