package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duplisweep/duplisweep/internal/dmetrics"
	"github.com/duplisweep/duplisweep/internal/filterset"
	"github.com/duplisweep/duplisweep/internal/hashcache"
	"github.com/duplisweep/duplisweep/internal/model"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func entryFor(t *testing.T, path string, inode uint64, category model.Category) model.FileEntry {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return model.FileEntry{
		Path:      path,
		Size:      uint64(fi.Size()),
		MTimeSec:  fi.ModTime().Unix(),
		MTimeNsec: int64(fi.ModTime().Nanosecond()),
		Identity:  model.Identity{Device: 1, Inode: inode},
		Category:  category,
	}
}

func sendAll(entries []model.FileEntry) <-chan model.FileEntry {
	ch := make(chan model.FileEntry, len(entries))
	for _, e := range entries {
		ch <- e
	}
	close(ch)
	return ch
}

func TestRunExactBranchGroupsIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := entryFor(t, writeFile(t, dir, "a.bin", bytes.Repeat([]byte{0xAA}, 1000)), 1, model.CategoryOther)
	b := entryFor(t, writeFile(t, dir, "b.bin", bytes.Repeat([]byte{0xAA}, 1000)), 2, model.CategoryOther)
	c := entryFor(t, writeFile(t, dir, "c.bin", append(bytes.Repeat([]byte{0xAA}, 999), 0xBB)), 3, model.CategoryOther)

	out, err := Run(context.Background(), sendAll([]model.FileEntry{a, b, c}), Options{
		Mode: Mode{Exact: true},
	})
	require.NoError(t, err)

	require.Len(t, out.ExactBuckets, 1)
	for _, members := range out.ExactBuckets {
		assert.Len(t, members, 2)
	}
}

func TestRunExactBranchRejectsViaFilterSet(t *testing.T) {
	dir := t.TempDir()
	a := entryFor(t, writeFile(t, dir, "a.bin", []byte("hello")), 1, model.CategoryOther)
	b := entryFor(t, writeFile(t, dir, "b.bin", []byte("hello")), 2, model.CategoryOther)

	minSize := uint64(1000)
	out, err := Run(context.Background(), sendAll([]model.FileEntry{a, b}), Options{
		Mode:   Mode{Exact: true},
		Filter: &filterset.Set{MinSize: &minSize},
	})
	require.NoError(t, err)
	assert.Empty(t, out.ExactBuckets)
}

func TestRunWithCacheRecordsHitsOnRescan(t *testing.T) {
	dir := t.TempDir()
	a := entryFor(t, writeFile(t, dir, "a.bin", bytes.Repeat([]byte{0x11}, 5000)), 1, model.CategoryOther)
	b := entryFor(t, writeFile(t, dir, "b.bin", bytes.Repeat([]byte{0x11}, 5000)), 2, model.CategoryOther)

	cachePath := filepath.Join(t.TempDir(), "cache.db")
	cache := hashcache.Open(cachePath)
	require.False(t, cache.Disabled)
	defer cache.Close()

	_, err := Run(context.Background(), sendAll([]model.FileEntry{a, b}), Options{
		Mode:  Mode{Exact: true},
		Cache: cache,
	})
	require.NoError(t, err)

	metrics := dmetrics.NewCounters()
	out, err := Run(context.Background(), sendAll([]model.FileEntry{a, b}), Options{
		Mode:    Mode{Exact: true},
		Cache:   cache,
		Metrics: metrics,
	})
	require.NoError(t, err)
	require.Len(t, out.ExactBuckets, 1)
	assert.Equal(t, uint64(0), metrics.FilesHashed.Load())
}

func TestParanoidFilterDropsByteMismatch(t *testing.T) {
	dir := t.TempDir()
	rep := entryFor(t, writeFile(t, dir, "rep.bin", []byte("identical-prefix-AAAA")), 1, model.CategoryOther)
	same := entryFor(t, writeFile(t, dir, "same.bin", []byte("identical-prefix-AAAA")), 2, model.CategoryOther)
	diff := entryFor(t, writeFile(t, dir, "diff.bin", []byte("identical-prefix-ZZZZ")), 3, model.CategoryOther)

	var errs []error
	kept := paranoidFilter(context.Background(), []model.FileEntry{rep, same, diff}, func(err error) {
		errs = append(errs, err)
	})

	require.Len(t, kept, 2)
	assert.Equal(t, "rep.bin", filepath.Base(kept[0].Path))
	assert.Equal(t, "same.bin", filepath.Base(kept[1].Path))
	assert.Len(t, errs, 1)
}

func solidJPEG(t *testing.T, dir, name string, w, h int, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, c)
			} else {
				img.Set(x, y, color.RGBA{A: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return writeFile(t, dir, name, buf.Bytes())
}

func TestRunImageBranchClustersSimilarImages(t *testing.T) {
	dir := t.TempDir()
	a := entryFor(t, solidJPEG(t, dir, "a.jpg", 64, 64, color.RGBA{R: 255, G: 255, B: 255, A: 255}), 1, model.CategoryImage)
	b := entryFor(t, solidJPEG(t, dir, "b.jpg", 64, 64, color.RGBA{R: 250, G: 250, B: 250, A: 255}), 2, model.CategoryImage)
	c := entryFor(t, solidJPEG(t, dir, "c.jpg", 64, 64, color.RGBA{R: 0, G: 0, B: 255, A: 255}), 3, model.CategoryImage)

	out, err := Run(context.Background(), sendAll([]model.FileEntry{a, b, c}), Options{
		Mode:                Mode{SimilarImages: true},
		SimilarityThreshold: 10,
	})
	require.NoError(t, err)
	require.Len(t, out.ImageClusters, 1)
	assert.Len(t, out.ImageClusters[0], 2)
}

func TestRunDocumentBranchClustersSimilarText(t *testing.T) {
	dir := t.TempDir()
	base := "the quick brown fox jumps over the lazy dog while the sun sets " +
		"slowly behind the hills and the wind carries the scent of rain across " +
		"the quiet valley where the old mill still turns beside the river"
	edited := base + " today"
	unrelated := "quantum mechanics describes subatomic particle behavior with remarkable precision across scales in a laboratory"

	a := entryFor(t, writeFile(t, dir, "a.txt", []byte(base)), 1, model.CategoryDocument)
	b := entryFor(t, writeFile(t, dir, "b.txt", []byte(edited)), 2, model.CategoryDocument)
	c := entryFor(t, writeFile(t, dir, "c.txt", []byte(unrelated)), 3, model.CategoryDocument)

	out, err := Run(context.Background(), sendAll([]model.FileEntry{a, b, c}), Options{
		Mode:                Mode{SimilarDocuments: true},
		SimilarityThreshold: 6,
	})
	require.NoError(t, err)
	require.Len(t, out.DocumentClusters, 1)
	assert.Len(t, out.DocumentClusters[0], 2)
}
