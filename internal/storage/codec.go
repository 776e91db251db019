package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/meta"
)

// Record is the persisted form of an analysis artifact. SourceLen is the
// byte length of the source the fingerprint was computed from; a reader
// holding content of a different length for the same fingerprint has hit
// a collision (or corruption) and must recompute.
type Record struct {
	Identity  meta.Identity          `json:"identity"`
	Language  meta.LanguageTag       `json:"language"`
	SourceLen int                    `json:"source_len"`
	Metadata  *meta.DocumentMetadata `json:"metadata,omitempty"`
	// Edges is set on derived edge-set artifacts instead of Metadata.
	Edges   []graph.Edge `json:"edges,omitempty"`
	SavedAt time.Time    `json:"saved_at"`
}

// ApproxSize estimates the record's memory footprint in bytes for
// cache accounting.
func (r *Record) ApproxSize() int {
	size := len(r.Identity) + len(r.Language) + 64
	if r.Metadata != nil {
		size += r.Metadata.ApproxSize()
	}
	for _, e := range r.Edges {
		size += len(e.Kind) + len(e.Source) + len(e.Target) +
			len(e.SourceSymbol) + len(e.TargetSymbol) + 48
		for k, v := range e.Data {
			size += len(k) + len(v) + 32
		}
	}
	return size
}

// EncodeRecord serializes a record for storage.
func EncodeRecord(r *Record) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.Identity, err)
	}
	return b, nil
}

// DecodeRecord deserializes a stored record.
func DecodeRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}
