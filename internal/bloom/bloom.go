// Package bloom implements the two-stage probabilistic admission filter
// from spec.md §4.5: a file whose size (stage 1) or 4 KiB prehash (stage 2)
// was seen only once is known-unique and can bypass the remaining phases.
// False positives cost only the next exact step; false negatives are
// impossible by construction because both stages are fed by an exact
// "seen at least twice" counting pass before any probabilistic query runs.
package bloom

import (
	"encoding/binary"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"
)

// falsePositiveRate is the target rate from spec.md §4.5 ("sized for
// false-positive rate <= 1%").
const falsePositiveRate = 0.01

// SizeFilter is the stage-1 admission filter, built from the set of file
// sizes observed at least twice during the pre-pass.
type SizeFilter struct {
	seenOnce  map[uint64]bool
	pending   map[uint64]bool
	candidate *bloomfilter.BloomFilter
	built     bool
	n         uint
}

// NewSizeFilter creates an empty stage-1 filter. expectedCandidates is
// stored but not used for sizing: Build sizes the Bloom filter from the
// number of sizes actually observed at least twice.
func NewSizeFilter(expectedCandidates uint) *SizeFilter {
	return &SizeFilter{
		seenOnce: make(map[uint64]bool),
		n:        expectedCandidates,
	}
}

// Observe folds one file's size into the counting pass. Call this once per
// file in the pre-pass, before Build.
func (f *SizeFilter) Observe(size uint64) {
	if f.candidate != nil {
		return // already built; Observe is only valid during the pre-pass
	}
	if !f.seenOnce[size] {
		f.seenOnce[size] = true
		return
	}
	// Seen before: this size is a duplicate candidate. Mark it by
	// inserting into a dedicated pending set consumed at Build time.
	if f.pending == nil {
		f.pending = make(map[uint64]bool)
	}
	f.pending[size] = true
}

// Build finalizes the Bloom filter from the sizes seen at least twice.
func (f *SizeFilter) Build() {
	f.candidate = bloomfilter.NewWithEstimates(uint(len(f.pending))+1, falsePositiveRate)
	for size := range f.pending {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], size)
		f.candidate.Add(buf[:])
	}
	f.built = true
}

// MaybePresent reports whether size was possibly seen at least twice. A
// false result means the file is known-unique by size and can bypass
// exact hashing entirely. A true result may be a false positive.
func (f *SizeFilter) MaybePresent(size uint64) bool {
	if !f.built || f.candidate == nil {
		return true // no filter built yet: admit everything, fail open
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], size)
	return f.candidate.Test(buf[:])
}

// PrehashFilter is the stage-2 admission filter, built from 4 KiB prefix
// digests observed at least twice.
type PrehashFilter struct {
	seenOnce  map[[8]byte]bool
	pending   map[[8]byte]bool
	candidate *bloomfilter.BloomFilter
	built     bool
}

// NewPrehashFilter creates an empty stage-2 filter.
func NewPrehashFilter() *PrehashFilter {
	return &PrehashFilter{seenOnce: make(map[[8]byte]bool)}
}

// prehashKey truncates a 32-byte prehash digest to its first 8 bytes for a
// cheap, fixed-size pre-pass counting key; the full digest is still used
// for the actual exact-match comparison downstream, so a collision here
// only costs an extra (harmless) admission, never a false negative.
func prehashKey(digest [32]byte) [8]byte {
	var k [8]byte
	copy(k[:], digest[:8])
	return k
}

// Observe folds one file's prefix digest into the counting pass.
func (f *PrehashFilter) Observe(digest [32]byte) {
	if f.candidate != nil {
		return
	}
	k := prehashKey(digest)
	if !f.seenOnce[k] {
		f.seenOnce[k] = true
		return
	}
	if f.pending == nil {
		f.pending = make(map[[8]byte]bool)
	}
	f.pending[k] = true
}

// Build finalizes the Bloom filter from prehashes seen at least twice.
func (f *PrehashFilter) Build() {
	f.candidate = bloomfilter.NewWithEstimates(uint(len(f.pending))+1, falsePositiveRate)
	for k := range f.pending {
		f.candidate.Add(k[:])
	}
	f.built = true
}

// MaybePresent reports whether digest was possibly seen at least twice.
func (f *PrehashFilter) MaybePresent(digest [32]byte) bool {
	if !f.built || f.candidate == nil {
		return true
	}
	k := prehashKey(digest)
	return f.candidate.Test(k[:])
}
