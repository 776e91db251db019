package graph

import (
	"github.com/lattice-dev/lattice/internal/meta"
)

// Kind classifies a cross-file relationship edge.
type Kind string

const (
	Calls      Kind = "calls"
	Imports    Kind = "imports"
	Inherits   Kind = "inherits"
	Implements Kind = "implements"
	Uses       Kind = "uses"
	DependsOn  Kind = "depends_on"
	References Kind = "references"
)

// Edge is a directed cross-file relationship. Target is empty while the
// edge is unresolved: the importing side named a symbol no known unit
// exports yet. Unresolved edges are retained, not dropped, so a later
// arrival of the exporter can resolve them retroactively.
type Edge struct {
	Kind         Kind              `json:"kind"`
	Source       meta.Identity     `json:"source"`
	Target       meta.Identity     `json:"target,omitempty"`
	SourceSymbol string            `json:"source_symbol,omitempty"`
	TargetSymbol string            `json:"target_symbol"`
	Data         map[string]string `json:"data,omitempty"`
}

// Resolved reports whether the edge points at a known unit.
func (e Edge) Resolved() bool {
	return e.Target != ""
}

// edgeKey identifies an edge for set-diffing; Data is auxiliary and
// deliberately excluded.
type edgeKey struct {
	Kind         Kind
	Target       meta.Identity
	SourceSymbol string
	TargetSymbol string
}

func (e Edge) key() edgeKey {
	return edgeKey{Kind: e.Kind, Target: e.Target, SourceSymbol: e.SourceSymbol, TargetSymbol: e.TargetSymbol}
}

// DeltaOp says whether a delta added or removed an edge.
type DeltaOp int

const (
	Added DeltaOp = iota
	Removed
)

func (op DeltaOp) String() string {
	if op == Added {
		return "added"
	}
	return "removed"
}

// Delta records one edge change produced by reconciliation. The
// coordinator unions deltas to compute invalidation frontiers.
type Delta struct {
	Op   DeltaOp
	Edge Edge
}

// AffectedIdentities returns the sorted set of identities touched by a
// slice of deltas: every source and every resolved target.
func AffectedIdentities(deltas []Delta) []meta.Identity {
	seen := make(map[meta.Identity]struct{})
	for _, d := range deltas {
		seen[d.Edge.Source] = struct{}{}
		if d.Edge.Target != "" {
			seen[d.Edge.Target] = struct{}{}
		}
	}
	ids := make([]meta.Identity, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return meta.SortIdentities(ids)
}

// SymbolRef locates one defined symbol in the graph.
type SymbolRef struct {
	Identity meta.Identity
	Symbol   meta.SymbolInfo
}

// Stats summarizes graph size.
type Stats struct {
	Nodes           int
	Edges           int
	UnresolvedEdges int
}
