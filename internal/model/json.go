package model

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalJSON renders a Digest as a lowercase hex string.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(d[:]))
}

// UnmarshalJSON parses a Digest from a lowercase hex string.
func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != DigestSize {
		return fmt.Errorf("model: digest must decode to exactly %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return nil
}

// MarshalJSON renders a GroupKind as its string name for stable, readable
// session payloads.
func (k GroupKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses a GroupKind from its string name.
func (k *GroupKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "similar_image":
		*k = GroupSimilarImage
	case "similar_document":
		*k = GroupSimilarDocument
	default:
		*k = GroupExact
	}
	return nil
}

// groupJSON is the wire shape of DuplicateGroup: RepresentativeI is an
// internal index, not useful to external consumers, so it is replaced with
// the resolved representative path.
type groupJSON struct {
	Kind             GroupKind   `json:"kind"`
	Entries          []FileEntry `json:"entries"`
	Representative   string      `json:"representative_path"`
	RecoverableBytes uint64      `json:"recoverable_bytes"`
}

// MarshalJSON renders a DuplicateGroup with its representative resolved to
// a path rather than an internal slice index.
func (g DuplicateGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(groupJSON{
		Kind:             g.Kind,
		Entries:          g.Entries,
		Representative:   g.Representative().Path,
		RecoverableBytes: g.RecoverableBytes,
	})
}

// UnmarshalJSON parses a DuplicateGroup, resolving RepresentativeI by
// matching the representative path against Entries.
func (g *DuplicateGroup) UnmarshalJSON(b []byte) error {
	var w groupJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	g.Kind = w.Kind
	g.Entries = w.Entries
	g.RecoverableBytes = w.RecoverableBytes
	g.RepresentativeI = 0
	for i, e := range g.Entries {
		if e.Path == w.Representative {
			g.RepresentativeI = i
			break
		}
	}
	return nil
}
