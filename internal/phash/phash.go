// Package phash implements perceptual image hashing per spec.md §4.7:
// decode by content sniffing, resize to a small grayscale matrix, and emit
// a 64-bit fingerprint (aHash, dHash, or pHash via DCT). EXIF orientation
// correction and resizing are adapted from
// fruitsalade/internal/gallery/exif.go and thumbs.go, repurposed here from
// display-thumbnail generation to hash-matrix preparation.
package phash

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"math/bits"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/duplisweep/duplisweep/internal/dmerrors"
)

// Algorithm selects which perceptual hash to compute.
type Algorithm int

const (
	AHash Algorithm = iota
	DHash
	PHash
)

// Fingerprint is a 64-bit perceptual hash. Two images with a small Hamming
// distance between their fingerprints are visually similar.
type Fingerprint uint64

// HammingDistance returns the number of differing bits between two
// fingerprints.
func HammingDistance(a, b Fingerprint) int {
	return bits.OnesCount64(uint64(a ^ b))
}

// Decode reads an image, detects its format by magic bytes (not
// extension, per spec.md §4.7), and applies EXIF orientation correction
// when present. Decode failures are reported via dmerrors.CodeDecodeImage
// so the caller can drop the file from the similarity branch while
// keeping it eligible for exact duplicate detection.
func Decode(r io.Reader, path string) (image.Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, dmerrors.Wrap(dmerrors.CodeDecodeImage, "read failed", path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, dmerrors.Wrap(dmerrors.CodeDecodeImage, "decode failed", path, err)
	}

	orientation := exifOrientation(raw)
	return applyOrientation(img, orientation), nil
}

func exifOrientation(raw []byte) int {
	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms img per its EXIF orientation tag, mirroring
// fruitsalade/internal/gallery/thumbs.go's applyOrientation.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Compute produces a fingerprint for img using the requested algorithm.
func Compute(img image.Image, algo Algorithm) Fingerprint {
	switch algo {
	case DHash:
		return dHash(img)
	case PHash:
		return pHash(img)
	default:
		return aHash(img)
	}
}

// aHash: average hash over an 8x8 grayscale matrix. Each bit is 1 when
// the pixel is at or above the matrix mean.
func aHash(img image.Image) Fingerprint {
	gray := grayscaleMatrix(img, 8, 8)
	var sum float64
	for _, row := range gray {
		for _, v := range row {
			sum += v
		}
	}
	mean := sum / float64(8*8)

	var fp uint64
	bit := 0
	for _, row := range gray {
		for _, v := range row {
			if v >= mean {
				fp |= 1 << uint(bit)
			}
			bit++
		}
	}
	return Fingerprint(fp)
}

// dHash: difference hash over an 8x9 grayscale matrix. Each bit is 1 when
// a pixel is brighter than its left neighbor, per row.
func dHash(img image.Image) Fingerprint {
	gray := grayscaleMatrix(img, 9, 8)
	var fp uint64
	bit := 0
	for _, row := range gray {
		for x := 0; x < 8; x++ {
			if row[x+1] > row[x] {
				fp |= 1 << uint(bit)
			}
			bit++
		}
	}
	return Fingerprint(fp)
}

// pHash: DCT-based perceptual hash. Resize to 32x32 grayscale, run a 2D
// DCT, keep the top-left 8x8 low-frequency block (excluding the DC term),
// and threshold against the block's median.
func pHash(img image.Image) Fingerprint {
	const n = 32
	gray := grayscaleMatrix(img, n, n)
	coeffs := dct2D(gray, n)

	vals := make([]float64, 0, 63)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if x == 0 && y == 0 {
				continue // skip the DC term
			}
			vals = append(vals, coeffs[y][x])
		}
	}
	median := medianOf(vals)

	var fp uint64
	bit := 0
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if coeffs[y][x] >= median {
				fp |= 1 << uint(bit)
			}
			bit++
		}
	}
	return Fingerprint(fp)
}

// grayscaleMatrix resizes img to w x h and returns its luminance values.
func grayscaleMatrix(img image.Image, w, h int) [][]float64 {
	resized := imaging.Resize(img, w, h, imaging.Lanczos)
	gray := imaging.Grayscale(resized)

	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, _, _, _ := gray.At(x, y).RGBA()
			out[y][x] = float64(r >> 8)
		}
	}
	return out
}

// dct2D computes the 2D discrete cosine transform (type II) of an n x n
// matrix. No natural ecosystem dependency covers this; implemented
// directly per spec.md §4.7.
func dct2D(matrix [][]float64, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for u := 0; u < n; u++ {
		for v := 0; v < n; v++ {
			var sum float64
			for x := 0; x < n; x++ {
				for y := 0; y < n; y++ {
					sum += matrix[x][y] *
						math.Cos(math.Pi/float64(n)*(float64(x)+0.5)*float64(u)) *
						math.Cos(math.Pi/float64(n)*(float64(y)+0.5)*float64(v))
				}
			}
			cu, cv := 1.0, 1.0
			if u == 0 {
				cu = 1.0 / math.Sqrt2
			}
			if v == 0 {
				cv = 1.0 / math.Sqrt2
			}
			out[u][v] = 0.25 * cu * cv * sum
		}
	}
	return out
}

func medianOf(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
