package phash

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestDecodeByMagicBytesNotExtension(t *testing.T) {
	raw := encodeJPEG(t, solidImage(32, 32, color.RGBA{R: 200, G: 50, B: 50, A: 255}))
	img, err := Decode(bytes.NewReader(raw), "photo.png") // wrong extension on purpose
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestDecodeInvalidDataReturnsDecodeImageError(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")), "broken.jpg")
	require.Error(t, err)
}

func TestHammingDistanceZeroForIdenticalFingerprints(t *testing.T) {
	raw := encodeJPEG(t, solidImage(64, 64, color.RGBA{R: 10, G: 200, B: 10, A: 255}))
	img, err := Decode(bytes.NewReader(raw), "a.jpg")
	require.NoError(t, err)

	fp1 := Compute(img, AHash)
	fp2 := Compute(img, AHash)
	assert.Equal(t, 0, HammingDistance(fp1, fp2))
}

// halfSplitImage returns an image whose left half is colorA and right
// half is colorB, giving every gradient-based hash real internal
// structure to respond to (a flat solid color has none).
func halfSplitImage(w, h int, colorA, colorB color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, colorA)
			} else {
				img.Set(x, y, colorB)
			}
		}
	}
	return img
}

func TestDistinctPatternsProduceDifferentFingerprints(t *testing.T) {
	leftDark := encodeJPEG(t, halfSplitImage(64, 64, color.RGBA{A: 255}, color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	rightDark := encodeJPEG(t, halfSplitImage(64, 64, color.RGBA{R: 255, G: 255, B: 255, A: 255}, color.RGBA{A: 255}))

	imgA, err := Decode(bytes.NewReader(leftDark), "a.jpg")
	require.NoError(t, err)
	imgB, err := Decode(bytes.NewReader(rightDark), "b.jpg")
	require.NoError(t, err)

	for _, algo := range []Algorithm{AHash, DHash, PHash} {
		fpA := Compute(imgA, algo)
		fpB := Compute(imgB, algo)
		assert.NotEqual(t, fpA, fpB, "algorithm %v must distinguish a mirrored half-split pattern", algo)
	}
}
