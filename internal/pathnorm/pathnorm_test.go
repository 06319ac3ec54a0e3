package pathnorm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeCleansAndAbsolutizes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "..", "a")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0o755))

	got, err := Canonicalize(sub, Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a"), got)
}

func TestCanonicalizeNFCNormalizes(t *testing.T) {
	// NFD decomposed form: "e" (U+0065) followed by a combining acute
	// accent (U+0301), assembled from explicit code points so the test
	// fixture can't be silently re-normalized by an editor or transport.
	nfd := "caf" + string(rune(0x0065)) + string(rune(0x0301))
	// NFC precomposed form: e-acute (U+00E9).
	nfc := "caf" + string(rune(0x00E9))
	require.NotEqual(t, nfd, nfc, "test fixture must exercise distinct byte sequences")

	dir := t.TempDir()
	got, err := Canonicalize(filepath.Join(dir, nfd), Options{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, nfc), got)
}

func TestIsUnder(t *testing.T) {
	assert.True(t, IsUnder("/a/b", "/a/b"))
	assert.True(t, IsUnder("/a/b", "/a/b/c"))
	assert.False(t, IsUnder("/a/b", "/a/bc"))
	assert.False(t, IsUnder("/a/b", "/a"))
}
