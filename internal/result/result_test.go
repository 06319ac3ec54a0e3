package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplisweep/duplisweep/internal/model"
	"github.com/duplisweep/duplisweep/internal/pipeline"
)

func entry(path string, size uint64, device, inode uint64, protected bool) model.FileEntry {
	return model.FileEntry{
		Path:      path,
		Size:      size,
		Identity:  model.Identity{Device: device, Inode: inode},
		Protected: protected,
	}
}

func TestAssembleDropsSingletonExactBucket(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{
			{1}: {entry("/a.bin", 100, 1, 1, false)},
		},
	}
	groups, stats := Assemble(out)
	assert.Empty(t, groups)
	assert.Equal(t, 0, stats.ExactGroups)
}

func TestAssembleCoalescesHardlinksPreferringShortestPath(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{
			{1}: {
				entry("/work/long/nested/h.bin", 100, 1, 42, false),
				entry("/work/a.bin", 100, 1, 42, false), // same identity, shorter path
				entry("/work/c.bin", 100, 1, 99, false),
			},
		},
	}
	groups, _ := Assemble(out)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Entries, 2)
	paths := []string{groups[0].Entries[0].Path, groups[0].Entries[1].Path}
	assert.Contains(t, paths, "/work/a.bin")
	assert.NotContains(t, paths, "/work/long/nested/h.bin")
}

func TestAssembleDropsGroupWhereEveryMemberIsProtected(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{
			{1}: {
				entry("/ref/a.bin", 100, 1, 1, true),
				entry("/ref/b.bin", 100, 1, 2, true),
			},
		},
	}
	groups, stats := Assemble(out)
	assert.Empty(t, groups)
	assert.Equal(t, 0, stats.ExactGroups)
}

func TestAssembleKeepsGroupWithMixedProtection(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{
			{1}: {
				entry("/work/a.bin", 100, 1, 1, false),
				entry("/ref/a.bin", 100, 1, 2, true),
			},
		},
	}
	groups, _ := Assemble(out)
	require.Len(t, groups, 1)
	var sawProtected, sawUnprotected bool
	for _, e := range groups[0].Entries {
		if e.Protected {
			sawProtected = true
		} else {
			sawUnprotected = true
		}
	}
	assert.True(t, sawProtected)
	assert.True(t, sawUnprotected)
}

func TestAssembleSortsByRecoverableBytesDescendingThenPath(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{
			{1}: { // small group: 10 * 1 = 10 recoverable bytes
				entry("/z-small-a.bin", 10, 1, 1, false),
				entry("/z-small-b.bin", 10, 1, 2, false),
			},
			{2}: { // big group: 1000 * 2 = 2000 recoverable bytes
				entry("/big-a.bin", 1000, 2, 1, false),
				entry("/big-b.bin", 1000, 2, 2, false),
				entry("/big-c.bin", 1000, 2, 3, false),
			},
		},
	}
	groups, _ := Assemble(out)
	require.Len(t, groups, 2)
	assert.Equal(t, uint64(2000), groups[0].RecoverableBytes)
	assert.Equal(t, uint64(10), groups[1].RecoverableBytes)
}

func TestAssembleDropsSimilarityClusterWithFewerThanTwoAfterCoalescence(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{},
		ImageClusters: [][]model.FileEntry{
			{
				entry("/img/a.jpg", 500, 1, 7, false),
				entry("/img/a-hardlink.jpg", 500, 1, 7, false), // same identity as above
			},
		},
	}
	groups, stats := Assemble(out)
	assert.Empty(t, groups)
	assert.Equal(t, 0, stats.ImageGroups)
}

func TestAssembleBuildsSimilarityGroup(t *testing.T) {
	out := &pipeline.Outcome{
		ExactBuckets: map[model.Digest][]model.FileEntry{},
		DocumentClusters: [][]model.FileEntry{
			{
				entry("/docs/a.txt", 200, 1, 1, false),
				entry("/docs/b.txt", 250, 1, 2, false),
			},
		},
	}
	groups, stats := Assemble(out)
	require.Len(t, groups, 1)
	assert.Equal(t, model.GroupSimilarDocument, groups[0].Kind)
	assert.Equal(t, 1, stats.DocumentGroups)
}
