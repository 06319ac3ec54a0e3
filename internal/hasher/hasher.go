// Package hasher computes the fixed-width content digests spec.md §4.6
// defines: a 4 KiB prefix digest and a full-file digest, both BLAKE2b-256,
// plus optional lockstep byte-comparison for paranoid verification.
package hasher

import (
	"bytes"
	"context"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/duplisweep/duplisweep/internal/dmerrors"
	"github.com/duplisweep/duplisweep/internal/logging"
	"github.com/duplisweep/duplisweep/internal/model"
)

// PrefixSize is the number of leading bytes hashed for the prefix digest.
const PrefixSize = 4096

// mmapThreshold is the file size at or above which mapped hashing is
// attempted when enabled, per spec.md §4.6.
const mmapThreshold = 16 * 1024 * 1024

// bufferMin and bufferMax bound the adaptive streaming read buffer.
const (
	bufferMin = 64 * 1024
	bufferMax = 16 * 1024 * 1024
)

// totalBufferBudget is the shared ceiling on aggregate streaming-buffer
// memory across every concurrently hashing goroutine, per spec.md §5:
// "Per-file adaptive buffer allocation must not exceed
// min(file_size, 16 MiB, total_buffer_budget / active_io_threads)".
const totalBufferBudget = 256 * 1024 * 1024

// Options controls one hashing run.
type Options struct {
	// UseMmap enables memory-mapped hashing for files at or above
	// mmapThreshold; on mapping failure it transparently falls back to
	// streaming.
	UseMmap bool

	// IOThreads is the number of goroutines concurrently hashing files,
	// used to divide totalBufferBudget per spec.md §5. Treated as 1 if
	// less than 1.
	IOThreads int
}

// PrefixDigest computes the first min(size, PrefixSize) bytes' digest.
func PrefixDigest(ctx context.Context, path string) (model.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "open for prefix hash failed", path, err)
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	if _, err := io.CopyN(h, f, PrefixSize); err != nil && err != io.EOF {
		return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "prefix read failed", path, err)
	}
	return sumTo32(h), nil
}

// FullDigest computes the digest over an entire file, choosing the
// adaptive streaming buffer or the mmap path per opts and size.
func FullDigest(ctx context.Context, path string, size int64, opts Options) (model.Digest, error) {
	if opts.UseMmap && size >= mmapThreshold {
		if d, ok := fullDigestMmap(path, size); ok {
			return d, nil
		}
		logging.Warn("hasher: mmap failed, falling back to streaming", logging.String("path", path))
	}
	return fullDigestStream(ctx, path, size, opts.IOThreads)
}

func fullDigestStream(ctx context.Context, path string, size int64, ioThreads int) (model.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "open for full hash failed", path, err)
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	buf := make([]byte, bufferFor(size, ioThreads))
	for {
		select {
		case <-ctx.Done():
			return model.Digest{}, dmerrors.Wrap(dmerrors.CodeCancelled, "hashing cancelled", path, ctx.Err())
		default:
		}
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return model.Digest{}, dmerrors.Wrap(dmerrors.CodeWalkEntry, "full hash read failed", path, readErr)
		}
	}
	return sumTo32(h), nil
}

// fullDigestMmap hashes a read-only mapping of the file's contents.
// Returns ok=false on any mapping failure so the caller falls back to
// streaming, per spec.md §4.6.
func fullDigestMmap(path string, size int64) (model.Digest, bool) {
	f, err := os.Open(path)
	if err != nil {
		return model.Digest{}, false
	}
	defer f.Close()

	if size <= 0 {
		h, _ := blake2b.New256(nil)
		return sumTo32(h), true
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return model.Digest{}, false
	}
	defer unix.Munmap(data)

	h, _ := blake2b.New256(nil)
	h.Write(data)
	return sumTo32(h), true
}

func bufferFor(size int64, ioThreads int) int {
	if ioThreads < 1 {
		ioThreads = 1
	}
	ceiling := bufferMax
	if perThread := totalBufferBudget / ioThreads; perThread < ceiling {
		ceiling = perThread
	}
	if ceiling < bufferMin {
		ceiling = bufferMin
	}

	if size <= 0 {
		return bufferMin
	}
	buf := size
	if buf < int64(bufferMin) {
		return bufferMin
	}
	if buf > int64(ceiling) {
		return ceiling
	}
	return int(buf)
}

func sumTo32(h interface{ Sum([]byte) []byte }) model.Digest {
	var d model.Digest
	copy(d[:], h.Sum(nil))
	return d
}

// ParanoidEqual compares two files byte-for-byte in lockstep, used after
// full-hash equality is established within a candidate group per
// spec.md §4.6. A mismatch demotes the pair out of the group.
func ParanoidEqual(ctx context.Context, pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, dmerrors.Wrap(dmerrors.CodeParanoidMismatch, "open failed during paranoid compare", pathA, err)
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return false, dmerrors.Wrap(dmerrors.CodeParanoidMismatch, "open failed during paranoid compare", pathB, err)
	}
	defer fb.Close()

	bufA := make([]byte, bufferMin)
	bufB := make([]byte, bufferMin)
	for {
		select {
		case <-ctx.Done():
			return false, dmerrors.Wrap(dmerrors.CodeCancelled, "paranoid compare cancelled", pathA, ctx.Err())
		default:
		}
		nA, errA := io.ReadFull(fa, bufA)
		nB, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:nA], bufB[:nB]) {
			return false, nil
		}
		doneA := errA == io.EOF || errA == io.ErrUnexpectedEOF
		doneB := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if doneA != doneB {
			return false, nil // differing lengths
		}
		if doneA && doneB {
			return true, nil
		}
		if errA != nil && !doneA {
			return false, dmerrors.Wrap(dmerrors.CodeParanoidMismatch, "read failed during paranoid compare", pathA, errA)
		}
		if errB != nil && !doneB {
			return false, dmerrors.Wrap(dmerrors.CodeParanoidMismatch, "read failed during paranoid compare", pathB, errB)
		}
	}
}
