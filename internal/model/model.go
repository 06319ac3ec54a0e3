// Package model defines the shared data types passed between pipeline
// phases: the file record produced by the walker, the fixed-width digests
// produced by the hasher, the cache row persisted between runs, and the
// duplicate groups handed off to external collaborators (TUI, exporters).
package model

import (
	"time"

	"github.com/google/uuid"
)

// Category is a coarse file-type classification derived from extension.
type Category int

const (
	CategoryOther Category = iota
	CategoryImage
	CategoryVideo
	CategoryAudio
	CategoryDocument
	CategoryArchive
)

func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryVideo:
		return "video"
	case CategoryAudio:
		return "audio"
	case CategoryDocument:
		return "document"
	case CategoryArchive:
		return "archive"
	default:
		return "other"
	}
}

// Identity is the (device, inode) pair used to detect hardlinks.
type Identity struct {
	Device uint64
	Inode  uint64
}

// FileEntry is the minimal record the walker emits for one discovered file.
// It is created once and never mutated afterward.
type FileEntry struct {
	Path      string
	Size      uint64
	MTimeSec  int64
	MTimeNsec int64
	Identity  Identity
	Category  Category
	Protected bool
}

// DigestSize is the fixed width, in bytes, of both the prefix and full
// content digests.
const DigestSize = 32

// Digest is a fixed-width content digest. The zero value means "not yet
// computed" and must never be treated as a valid hash of empty content —
// callers check a companion bool/ok rather than comparing against zero.
type Digest [DigestSize]byte

// CacheRecord is the persisted (path, identity) -> digests mapping used to
// skip unchanged files on rescans. It is valid for a FileEntry only when
// all four identity fields — size, mtime, device, inode — match exactly.
type CacheRecord struct {
	Path         string
	Size         uint64
	MTimeSec     int64
	MTimeNsec    int64
	Device       uint64
	Inode        uint64
	PrefixDigest *Digest
	FullDigest   *Digest
	Perceptual   *uint64
	SimHash      *uint64
	Version      int
}

// MatchesEntry reports whether the cache row's identity tuple matches the
// live FileEntry exactly. A mismatch means the record is stale and must be
// recomputed.
func (r *CacheRecord) MatchesEntry(e *FileEntry) bool {
	return r.Size == e.Size &&
		r.MTimeSec == e.MTimeSec &&
		r.MTimeNsec == e.MTimeNsec &&
		r.Device == e.Identity.Device &&
		r.Inode == e.Identity.Inode
}

// GroupKind tags how a DuplicateGroup was produced.
type GroupKind int

const (
	GroupExact GroupKind = iota
	GroupSimilarImage
	GroupSimilarDocument
)

func (k GroupKind) String() string {
	switch k {
	case GroupSimilarImage:
		return "similar_image"
	case GroupSimilarDocument:
		return "similar_document"
	default:
		return "exact"
	}
}

// DuplicateGroup is a set of two or more files sharing a common group key.
// It is immutable once constructed by the result assembler.
type DuplicateGroup struct {
	Kind            GroupKind
	Entries         []FileEntry
	RepresentativeI int // index into Entries of the canonical member
	RecoverableBytes uint64
}

// Representative returns the canonical member of the group.
func (g DuplicateGroup) Representative() FileEntry {
	return g.Entries[g.RepresentativeI]
}

// FilterEcho is a serializable snapshot of the filter-set configuration
// used for a scan, echoed back in the Session payload per spec.md §6
// ("filter set echo"). It is a plain value type rather than a reference to
// internal/filterset.Set to avoid that package's import of this one
// turning into a cycle.
type FilterEcho struct {
	MinSize      *uint64    `json:"min_size,omitempty"`
	MaxSize      *uint64    `json:"max_size,omitempty"`
	NewerThan    *time.Time `json:"newer_than,omitempty"`
	OlderThan    *time.Time `json:"older_than,omitempty"`
	Categories   []string   `json:"categories,omitempty"`
	GlobInclude  []string   `json:"glob_include,omitempty"`
	GlobExclude  []string   `json:"glob_exclude,omitempty"`
	RegexInclude []string   `json:"regex_include,omitempty"`
	RegexExclude []string   `json:"regex_exclude,omitempty"`
}

// Session is the versioned, serializable payload emitted at pipeline
// completion and consumed by external collaborators (TUI, exporters).
type Session struct {
	SessionID      uuid.UUID        `json:"session_id"`
	ToolVersion    string           `json:"tool_version"`
	SchemaVersion  int              `json:"schema_version"`
	Roots          []string         `json:"roots"`
	ReferenceRoots []string         `json:"reference_roots"`
	Filter         FilterEcho       `json:"filter"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	Groups         []DuplicateGroup `json:"groups"`
	IntegrityHex   string           `json:"integrity_sha256"`
}

// NewSessionID generates a fresh session identifier.
func NewSessionID() uuid.UUID {
	return uuid.New()
}

// CurrentSchemaVersion is bumped whenever the Session JSON shape changes
// incompatibly.
const CurrentSchemaVersion = 2
