// Package result builds the final, emittable DuplicateGroup slice from a
// pipeline.Outcome, per spec.md §4.10: hardlink coalescence within a
// bucket/cluster, reference-root protection policy, and stable descending
// sort by recoverable bytes.
package result

import (
	"sort"

	"github.com/duplisweep/duplisweep/internal/model"
	"github.com/duplisweep/duplisweep/internal/pipeline"
)

// Stats summarizes, per branch, how many raw candidates were considered
// versus how many groups survived assembly — the original implementation's
// group-building does more bookkeeping than "bucket and coalesce"
// (see original_source/src/duplicates/groups.rs), and this is the surviving
// counter used for the final summary.
type Stats struct {
	ExactCandidates    int
	ExactGroups        int
	ImageCandidates    int
	ImageGroups        int
	DocumentCandidates int
	DocumentGroups     int
}

// Assemble converts a pipeline.Outcome into the final, sorted
// DuplicateGroup slice.
func Assemble(out *pipeline.Outcome) ([]model.DuplicateGroup, Stats) {
	var groups []model.DuplicateGroup
	var stats Stats

	for _, members := range out.ExactBuckets {
		stats.ExactCandidates += len(members)
		if g, ok := buildGroup(model.GroupExact, coalesceHardlinks(members)); ok {
			groups = append(groups, g)
			stats.ExactGroups++
		}
	}
	for _, members := range out.ImageClusters {
		stats.ImageCandidates += len(members)
		if g, ok := buildGroup(model.GroupSimilarImage, coalesceHardlinks(members)); ok {
			groups = append(groups, g)
			stats.ImageGroups++
		}
	}
	for _, members := range out.DocumentClusters {
		stats.DocumentCandidates += len(members)
		if g, ok := buildGroup(model.GroupSimilarDocument, coalesceHardlinks(members)); ok {
			groups = append(groups, g)
			stats.DocumentGroups++
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].RecoverableBytes != groups[j].RecoverableBytes {
			return groups[i].RecoverableBytes > groups[j].RecoverableBytes
		}
		return groups[i].Representative().Path < groups[j].Representative().Path
	})

	return groups, stats
}

// coalesceHardlinks collapses entries sharing (device, inode) into the one
// with the shortest canonical path, per spec.md §4.10 and invariant 1 of
// §3 ("No group contains two entries with the same (device_id, inode)").
func coalesceHardlinks(members []model.FileEntry) []model.FileEntry {
	best := make(map[model.Identity]model.FileEntry, len(members))
	order := make([]model.Identity, 0, len(members))
	for _, m := range members {
		cur, ok := best[m.Identity]
		if !ok {
			best[m.Identity] = m
			order = append(order, m.Identity)
			continue
		}
		if len(m.Path) < len(cur.Path) || (len(m.Path) == len(cur.Path) && m.Path < cur.Path) {
			best[m.Identity] = m
		}
	}
	out := make([]model.FileEntry, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// buildGroup applies the reference-protection policy and constructs the
// final group. ok is false if fewer than two members survive coalescence
// or every surviving member is protected (spec.md §3 invariant 2).
func buildGroup(kind model.GroupKind, members []model.FileEntry) (model.DuplicateGroup, bool) {
	if len(members) < 2 {
		return model.DuplicateGroup{}, false
	}

	allProtected := true
	for _, m := range members {
		if !m.Protected {
			allProtected = false
			break
		}
	}
	if allProtected {
		return model.DuplicateGroup{}, false
	}

	sorted := make([]model.FileEntry, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	recoverable := sorted[0].Size * uint64(len(sorted)-1)

	return model.DuplicateGroup{
		Kind:             kind,
		Entries:          sorted,
		RepresentativeI:  0,
		RecoverableBytes: recoverable,
	}, true
}
