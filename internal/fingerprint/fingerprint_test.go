package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeLowercasesAndSplitsOnPunctuation(t *testing.T) {
	got := Tokenize("Hello, World! It's 2026.")
	assert.Equal(t, []string{"hello", "world", "it", "s", "2026"}, got)
}

func TestSimHashIdenticalTextSameFingerprint(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	a := SimHash(text)
	b := SimHash(text)
	assert.Equal(t, a, b)
}

const longBase = "the quick brown fox jumps over the lazy dog while the sun sets " +
	"slowly behind the hills and the wind carries the scent of rain across " +
	"the quiet valley where the old mill still turns beside the river"

func TestSimHashSmallEditIsCloserThanUnrelatedText(t *testing.T) {
	edited := longBase + " today"
	unrelated := "quantum mechanics describes subatomic particle behavior with remarkable precision across scales"

	base := SimHash(longBase)
	distEdit := HammingDistance(base, SimHash(edited))
	distUnrelated := HammingDistance(base, SimHash(unrelated))

	assert.Less(t, distEdit, distUnrelated, "a one-word edit must stay closer than an unrelated document")
}

func TestSimHashEmptyTextIsZero(t *testing.T) {
	assert.Equal(t, Fingerprint(0), SimHash(""))
}

func TestExtractTextPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from a text file"), 0o644))

	text, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "hello from a text file", text)
}

func TestExtractTextUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01}, 0o644))

	_, err := ExtractText(path)
	assert.Error(t, err)
}

func TestHammingDistanceZeroForEqualFingerprints(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(Fingerprint(42), Fingerprint(42)))
}
