// Package graph maintains the in-memory cross-file relationship graph.
// Nodes live in an arena indexed by integer handles so import cycles are
// plain data rather than an ownership problem; all cross-references
// between nodes go through handles, never pointers.
//
// The graph has a single logical writer (the update coordinator) and any
// number of concurrent readers. Readers observe either the pre- or
// post-reconciliation state of a pass, never a partially applied delta.
package graph

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/lattice-dev/lattice/internal/meta"
)

type node struct {
	id  meta.Identity
	md  *meta.DocumentMetadata
	out []Edge
}

// Graph is the relationship graph aggregate.
type Graph struct {
	mu     sync.RWMutex
	logger *slog.Logger

	nodes   []node
	free    []int
	handles map[meta.Identity]int

	// exporters: symbol name -> handles of live nodes exporting it.
	exporters map[string]map[int]struct{}

	// incoming: target handle -> source handle -> edge count. Backs
	// DependentsOf and dangling-edge repair.
	incoming map[int]map[int]int

	// interest: target symbol name -> source handles holding any edge
	// (resolved or not) for that symbol. Drives retroactive
	// re-resolution when an exporter appears or disappears.
	interest map[string]map[int]struct{}

	edgeCount       int
	unresolvedCount int
}

// New creates an empty graph. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		logger:    logger,
		handles:   make(map[meta.Identity]int),
		exporters: make(map[string]map[int]struct{}),
		incoming:  make(map[int]map[int]int),
		interest:  make(map[string]map[int]struct{}),
	}
}

// UpsertDocument replaces all outgoing edges attributed to id with edges
// derived from md, re-resolving imports, calls, and type references
// against the currently known exporters. It also re-resolves every other
// node interested in a symbol whose export status changed here, so an
// exporter arriving late retroactively resolves dangling edges. The
// returned deltas cover both.
func (g *Graph) UpsertDocument(id meta.Identity, md *meta.DocumentMetadata) []Delta {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := g.ensureLocked(id)
	n := &g.nodes[h]

	// Work out which exported names changed before touching the index.
	var changedSymbols []string
	oldExports := map[string]struct{}{}
	if n.md != nil {
		for name := range n.md.Exported {
			oldExports[name] = struct{}{}
		}
	}
	for name := range md.Exported {
		if _, ok := oldExports[name]; !ok {
			changedSymbols = append(changedSymbols, name)
		}
		delete(oldExports, name)
	}
	for name := range oldExports { // no longer exported
		changedSymbols = append(changedSymbols, name)
	}
	sort.Strings(changedSymbols)

	// Swap the exporter index to the new metadata.
	if n.md != nil {
		for name := range n.md.Exported {
			g.dropExporterLocked(name, h)
		}
	}
	for name := range md.Exported {
		g.addExporterLocked(name, h)
	}
	n.md = md

	deltas := g.applyEdgesLocked(h, g.buildEdgesLocked(h))

	// Retroactive resolution for nodes interested in changed symbols.
	for _, other := range g.interestedLocked(changedSymbols, h) {
		deltas = append(deltas, g.reresolveLocked(other)...)
	}
	return deltas
}

// RemoveDocument removes the node and all edges touching it. Edges from
// other nodes that resolved to id are re-resolved: they either find
// another exporter or revert to unresolved, so no dangling edge survives.
func (g *Graph) RemoveDocument(id meta.Identity) []Delta {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.handles[id]
	if !ok {
		return nil
	}
	n := &g.nodes[h]

	var exported []string
	for name := range n.md.Exported {
		exported = append(exported, name)
		g.dropExporterLocked(name, h)
	}
	sort.Strings(exported)

	deltas := g.applyEdgesLocked(h, nil)

	// Importers that resolved against this node must be repaired now
	// that it is gone.
	for _, other := range g.interestedLocked(exported, h) {
		deltas = append(deltas, g.reresolveLocked(other)...)
	}

	if left := g.incoming[h]; len(left) > 0 {
		// An inbound edge whose symbol this node never exported (a
		// dangling edge) is pruned by forcing the holder to re-resolve.
		g.logger.Warn("pruning dangling edges", "identity", string(id), "holders", len(left))
		holders := make(map[int]struct{}, len(left))
		for src := range left {
			holders[src] = struct{}{}
		}
		for _, other := range g.sortedHandlesLocked(holders) {
			deltas = append(deltas, g.reresolveLocked(other)...)
		}
	}
	delete(g.incoming, h)

	delete(g.handles, id)
	g.nodes[h] = node{}
	g.free = append(g.free, h)
	return deltas
}

// Reresolve re-attempts target resolution for every outgoing edge of id
// without re-extracting metadata. Used when propagating an invalidation
// frontier. Unknown identities are a no-op.
func (g *Graph) Reresolve(id meta.Identity) []Delta {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.handles[id]
	if !ok {
		return nil
	}
	return g.reresolveLocked(h)
}

// DependentsOf returns the sorted identities holding at least one edge
// whose resolved target is id.
func (g *Graph) DependentsOf(id meta.Identity) []meta.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.handles[id]
	if !ok {
		return nil
	}
	var ids []meta.Identity
	for src := range g.incoming[h] {
		ids = append(ids, g.nodes[src].id)
	}
	return meta.SortIdentities(ids)
}

// Metadata returns the stored metadata for id. The record is immutable
// by convention; callers must not mutate it.
func (g *Graph) Metadata(id meta.Identity) (*meta.DocumentMetadata, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.handles[id]
	if !ok {
		return nil, false
	}
	return g.nodes[h].md, true
}

// EdgesFrom returns a copy of id's outgoing edges.
func (g *Graph) EdgesFrom(id meta.Identity) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h, ok := g.handles[id]
	if !ok {
		return nil
	}
	out := make([]Edge, len(g.nodes[h].out))
	copy(out, g.nodes[h].out)
	return out
}

// Identities returns all live identities, sorted.
func (g *Graph) Identities() []meta.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]meta.Identity, 0, len(g.handles))
	for id := range g.handles {
		ids = append(ids, id)
	}
	return meta.SortIdentities(ids)
}

// FindSymbol returns every definition of name across the graph, sorted
// by identity.
func (g *Graph) FindSymbol(name string) []SymbolRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var refs []SymbolRef
	for _, h := range g.handles {
		n := &g.nodes[h]
		if sym, ok := n.md.Defined[name]; ok {
			refs = append(refs, SymbolRef{Identity: n.id, Symbol: sym})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Identity < refs[j].Identity })
	return refs
}

// Exporters returns the sorted identities currently exporting name.
func (g *Graph) Exporters(name string) []meta.Identity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []meta.Identity
	for h := range g.exporters[name] {
		ids = append(ids, g.nodes[h].id)
	}
	return meta.SortIdentities(ids)
}

// Stats returns node and edge counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Nodes:           len(g.handles),
		Edges:           g.edgeCount,
		UnresolvedEdges: g.unresolvedCount,
	}
}

// ---- internals (all require g.mu held for writing) ----

func (g *Graph) ensureLocked(id meta.Identity) int {
	if h, ok := g.handles[id]; ok {
		return h
	}
	var h int
	if n := len(g.free); n > 0 {
		h = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		g.nodes = append(g.nodes, node{})
		h = len(g.nodes) - 1
	}
	g.nodes[h] = node{id: id, md: meta.NewDocumentMetadata()}
	g.handles[id] = h
	return h
}

// buildEdgesLocked derives the outgoing edge set for h from its metadata,
// resolving targets against current exporters. Iteration is over sorted
// names so the edge order (and therefore delta order) is reproducible.
func (g *Graph) buildEdgesLocked(h int) []Edge {
	n := &g.nodes[h]
	md := n.md

	seen := make(map[edgeKey]struct{})
	var edges []Edge
	add := func(e Edge) {
		if _, dup := seen[e.key()]; dup {
			return
		}
		seen[e.key()] = struct{}{}
		edges = append(edges, e)
	}

	for _, name := range md.ImportedNames() {
		imp := md.Imported[name]
		add(Edge{
			Kind:         Imports,
			Source:       n.id,
			Target:       g.resolveLocked(name, h),
			SourceSymbol: name,
			TargetSymbol: name,
			Data:         map[string]string{"source_path": imp.SourcePath},
		})
	}
	for _, call := range md.Calls {
		add(Edge{
			Kind:         Calls,
			Source:       n.id,
			Target:       g.resolveLocked(call.Callee, h),
			SourceSymbol: call.Caller,
			TargetSymbol: call.Callee,
		})
	}
	for _, tr := range md.TypeRefs {
		target := g.resolveLocked(tr.Name, h)
		if target == "" {
			// Type references are noisy; only materialize resolved ones
			// as edges. Unresolved imports and calls carry the retry
			// burden for late exporters.
			continue
		}
		add(Edge{
			Kind:         References,
			Source:       n.id,
			Target:       target,
			TargetSymbol: tr.Name,
		})
	}
	return edges
}

// resolveLocked finds the exporting identity for symbol, excluding the
// asking node. Tie-break: longest common path prefix with the asker,
// then lexicographically smallest identity, so resolution is
// reproducible regardless of arrival order.
func (g *Graph) resolveLocked(symbol string, selfH int) meta.Identity {
	cands := g.exporters[symbol]
	if len(cands) == 0 {
		return ""
	}
	self := g.nodes[selfH].id

	var best meta.Identity
	bestPrefix := -1
	for h := range cands {
		if h == selfH {
			continue
		}
		id := g.nodes[h].id
		p := commonSegments(string(self), string(id))
		if p > bestPrefix || (p == bestPrefix && (best == "" || id < best)) {
			best = id
			bestPrefix = p
		}
	}
	return best
}

// applyEdgesLocked swaps h's outgoing edge set for newEdges, maintaining
// the incoming/interest indexes, and returns the delta.
func (g *Graph) applyEdgesLocked(h int, newEdges []Edge) []Delta {
	n := &g.nodes[h]

	oldByKey := make(map[edgeKey]Edge, len(n.out))
	for _, e := range n.out {
		oldByKey[e.key()] = e
	}

	var deltas []Delta
	for _, e := range newEdges {
		if _, ok := oldByKey[e.key()]; ok {
			delete(oldByKey, e.key())
			continue
		}
		g.indexEdgeLocked(h, e, +1)
		deltas = append(deltas, Delta{Op: Added, Edge: e})
	}
	// Removed edges in stable order.
	removed := make([]Edge, 0, len(oldByKey))
	for _, e := range n.out {
		if _, gone := oldByKey[e.key()]; gone {
			removed = append(removed, e)
		}
	}
	for _, e := range removed {
		g.indexEdgeLocked(h, e, -1)
		deltas = append(deltas, Delta{Op: Removed, Edge: e})
	}

	n.out = newEdges
	g.reconcileInterestLocked(h, removed, newEdges)
	return deltas
}

// reconcileInterestLocked syncs the interest index for h against its
// current edge set. Symbols appearing only in removed edges lose the
// interest entry; everything still wanted keeps or gains one.
func (g *Graph) reconcileInterestLocked(h int, removed, edges []Edge) {
	want := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		want[e.TargetSymbol] = struct{}{}
		m := g.interest[e.TargetSymbol]
		if m == nil {
			m = make(map[int]struct{})
			g.interest[e.TargetSymbol] = m
		}
		m[h] = struct{}{}
	}
	for _, e := range removed {
		if _, keep := want[e.TargetSymbol]; keep {
			continue
		}
		if m := g.interest[e.TargetSymbol]; m != nil {
			delete(m, h)
			if len(m) == 0 {
				delete(g.interest, e.TargetSymbol)
			}
		}
	}
}

// reresolveLocked recomputes edge targets for h without rebuilding the
// edge set from metadata.
func (g *Graph) reresolveLocked(h int) []Delta {
	n := &g.nodes[h]
	if len(n.out) == 0 {
		return nil
	}
	changed := false
	newEdges := make([]Edge, len(n.out))
	for i, e := range n.out {
		e.Target = g.resolveLocked(e.TargetSymbol, h)
		if e.Target != n.out[i].Target {
			changed = true
		}
		newEdges[i] = e
	}
	if !changed {
		return nil
	}
	return g.applyEdgesLocked(h, newEdges)
}

func (g *Graph) indexEdgeLocked(src int, e Edge, dir int) {
	g.edgeCount += dir
	if e.Target == "" {
		g.unresolvedCount += dir
	} else if th, ok := g.handles[e.Target]; ok {
		if dir > 0 {
			m := g.incoming[th]
			if m == nil {
				m = make(map[int]int)
				g.incoming[th] = m
			}
			m[src]++
		} else if m := g.incoming[th]; m != nil {
			m[src]--
			if m[src] <= 0 {
				delete(m, src)
			}
			if len(m) == 0 {
				delete(g.incoming, th)
			}
		}
	}
}

func (g *Graph) addExporterLocked(name string, h int) {
	m := g.exporters[name]
	if m == nil {
		m = make(map[int]struct{})
		g.exporters[name] = m
	}
	m[h] = struct{}{}
}

func (g *Graph) dropExporterLocked(name string, h int) {
	if m := g.exporters[name]; m != nil {
		delete(m, h)
		if len(m) == 0 {
			delete(g.exporters, name)
		}
	}
}

// interestedLocked collects handles holding edges for any of the given
// symbols, excluding self, ordered by identity.
func (g *Graph) interestedLocked(symbols []string, selfH int) []int {
	set := make(map[int]struct{})
	for _, s := range symbols {
		for h := range g.interest[s] {
			if h != selfH {
				set[h] = struct{}{}
			}
		}
	}
	return g.sortedHandlesLocked(set)
}

func (g *Graph) sortedHandlesLocked(set map[int]struct{}) []int {
	hs := make([]int, 0, len(set))
	for h := range set {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return g.nodes[hs[i]].id < g.nodes[hs[j]].id })
	return hs
}

// commonSegments counts leading path segments shared by two identities.
func commonSegments(a, b string) int {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}
