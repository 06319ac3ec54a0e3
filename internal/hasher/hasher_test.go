package hasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPrefixDigestDiffersWithinPrefixWindow(t *testing.T) {
	dir := t.TempDir()
	short := write(t, dir, "short.bin", "hello world")
	long := write(t, dir, "long.bin", "hello world"+string(make([]byte, 10000)))

	d1, err := PrefixDigest(context.Background(), short)
	require.NoError(t, err)
	d2, err := PrefixDigest(context.Background(), long)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2, "different content within the prefix window must differ")
}

func TestFullDigestMatchesForIdenticalContent(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.bin", "identical content")
	b := write(t, dir, "b.bin", "identical content")
	c := write(t, dir, "c.bin", "different content!")

	da, err := FullDigest(context.Background(), a, int64(len("identical content")), Options{})
	require.NoError(t, err)
	db, err := FullDigest(context.Background(), b, int64(len("identical content")), Options{})
	require.NoError(t, err)
	dc, err := FullDigest(context.Background(), c, int64(len("different content!")), Options{})
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.NotEqual(t, da, dc)
}

func TestFullDigestMmapMatchesStreaming(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, 17*1024*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(dir, "large.bin")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	streamed, err := FullDigest(context.Background(), path, int64(len(content)), Options{UseMmap: false})
	require.NoError(t, err)
	mapped, err := FullDigest(context.Background(), path, int64(len(content)), Options{UseMmap: true})
	require.NoError(t, err)
	assert.Equal(t, streamed, mapped)
}

func TestBufferForDividesBudgetByIOThreads(t *testing.T) {
	big := int64(bufferMax) * 4

	assert.Equal(t, bufferMax, bufferFor(big, 1), "single-threaded run may use the full per-file ceiling")

	threads := totalBufferBudget / bufferMin // thread count large enough to push per-thread share down to bufferMin
	assert.Equal(t, bufferMin, bufferFor(big, threads), "buffer never shrinks below the minimum even under heavy contention")

	halfBudgetThreads := 2
	got := bufferFor(big, halfBudgetThreads)
	assert.LessOrEqual(t, got, totalBufferBudget/halfBudgetThreads)
	assert.LessOrEqual(t, got, bufferMax)
}

func TestBufferForAppliesFloorRegardlessOfThreadCount(t *testing.T) {
	assert.Equal(t, bufferMin, bufferFor(10, 1), "small files still get at least the floor buffer")
	assert.Equal(t, bufferMin, bufferFor(0, 4))
}

func TestParanoidEqual(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.bin", "same bytes here")
	b := write(t, dir, "b.bin", "same bytes here")
	c := write(t, dir, "c.bin", "same bytes therr")

	eq, err := ParanoidEqual(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = ParanoidEqual(context.Background(), a, c)
	require.NoError(t, err)
	assert.False(t, eq)
}
