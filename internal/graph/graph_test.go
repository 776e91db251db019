package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/meta"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return New(nil)
}

// doc builds a metadata record exporting the given names as functions.
func doc(exports ...string) *meta.DocumentMetadata {
	md := meta.NewDocumentMetadata()
	for _, name := range exports {
		md.Defined[name] = meta.SymbolInfo{Name: name, Kind: meta.KindFunction, Visibility: meta.Public}
		md.Exported[name] = meta.ExportInfo{SymbolName: name, Kind: meta.KindFunction}
	}
	return md
}

func withImports(md *meta.DocumentMetadata, names ...string) *meta.DocumentMetadata {
	for _, name := range names {
		md.Imported[name] = meta.ImportInfo{SymbolName: name, SourcePath: name, Kind: "symbol"}
	}
	return md
}

func withCall(md *meta.DocumentMetadata, caller, callee string) *meta.DocumentMetadata {
	md.Calls = append(md.Calls, meta.CallSite{Caller: caller, Callee: callee})
	return md
}

func edgeFor(t *testing.T, g *Graph, id meta.Identity, symbol string) Edge {
	t.Helper()
	for _, e := range g.EdgesFrom(id) {
		if e.TargetSymbol == symbol {
			return e
		}
	}
	t.Fatalf("no edge from %s for symbol %s", id, symbol)
	return Edge{}
}

func TestUpsertResolvesImport(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("lib/render.go", doc("Render"))
	deltas := g.UpsertDocument("app/main.go", withImports(doc(), "Render"))

	require.Len(t, deltas, 1)
	assert.Equal(t, Added, deltas[0].Op)
	assert.Equal(t, Imports, deltas[0].Edge.Kind)
	assert.Equal(t, meta.Identity("lib/render.go"), deltas[0].Edge.Target)
	assert.True(t, deltas[0].Edge.Resolved())

	st := g.Stats()
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, 1, st.Edges)
	assert.Equal(t, 0, st.UnresolvedEdges)
}

func TestLateExporterResolvesRetroactively(t *testing.T) {
	g := newTestGraph(t)

	deltas := g.UpsertDocument("app/main.go", withImports(doc(), "Render"))
	require.Len(t, deltas, 1)
	assert.False(t, deltas[0].Edge.Resolved())
	assert.Equal(t, 1, g.Stats().UnresolvedEdges)

	// The exporter arrives after the importer. Its upsert must repair
	// the importer's dangling edge.
	deltas = g.UpsertDocument("lib/render.go", doc("Render"))
	affected := AffectedIdentities(deltas)
	assert.Contains(t, affected, meta.Identity("app/main.go"))

	e := edgeFor(t, g, "app/main.go", "Render")
	assert.Equal(t, meta.Identity("lib/render.go"), e.Target)
	assert.Equal(t, 0, g.Stats().UnresolvedEdges)
	assert.Equal(t, []meta.Identity{"app/main.go"}, g.DependentsOf("lib/render.go"))
}

func TestRemoveExporterRevertsToUnresolved(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("lib/render.go", doc("Render"))
	g.UpsertDocument("app/main.go", withImports(doc(), "Render"))

	deltas := g.RemoveDocument("lib/render.go")
	require.NotEmpty(t, deltas)

	e := edgeFor(t, g, "app/main.go", "Render")
	assert.False(t, e.Resolved())
	assert.Empty(t, g.DependentsOf("lib/render.go"))

	st := g.Stats()
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 1, st.UnresolvedEdges)
}

func TestRemovedExportFallsBackToOtherExporter(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("app/a.go", doc("Thing"))
	g.UpsertDocument("zlib/b.go", doc("Thing"))
	g.UpsertDocument("app/main.go", withImports(doc(), "Thing"))

	// Shares a path segment with app/a.go, so that wins first.
	require.Equal(t, meta.Identity("app/a.go"), edgeFor(t, g, "app/main.go", "Thing").Target)

	// Re-upsert app/a.go without the export; the importer must shift
	// to the remaining exporter.
	g.UpsertDocument("app/a.go", doc())
	assert.Equal(t, meta.Identity("zlib/b.go"), edgeFor(t, g, "app/main.go", "Thing").Target)
}

func TestIdempotentUpsert(t *testing.T) {
	g := newTestGraph(t)

	md := withCall(withImports(doc("Helper"), "Render"), "Helper", "Render")
	first := g.UpsertDocument("app/main.go", md)
	require.NotEmpty(t, first)

	again := g.UpsertDocument("app/main.go", withCall(withImports(doc("Helper"), "Render"), "Helper", "Render"))
	assert.Empty(t, again)
}

func TestTieBreakLongestCommonPrefixThenLexicographic(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("pkg/render/draw.go", doc("Draw"))
	g.UpsertDocument("pkg/legacy/draw.go", doc("Draw"))

	// Importer under pkg/render shares two segments with pkg/render/draw.go.
	g.UpsertDocument("pkg/render/main.go", withImports(doc(), "Draw"))
	assert.Equal(t, meta.Identity("pkg/render/draw.go"), edgeFor(t, g, "pkg/render/main.go", "Draw").Target)

	// Importer elsewhere ties on prefix length; lexicographically
	// smallest identity wins.
	g.UpsertDocument("other/main.go", withImports(doc(), "Draw"))
	assert.Equal(t, meta.Identity("pkg/legacy/draw.go"), edgeFor(t, g, "other/main.go", "Draw").Target)
}

func TestSelfExportNeverResolvesToSelf(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("app/a.go", withCall(doc("Render"), "", "Render"))
	e := edgeFor(t, g, "app/a.go", "Render")
	assert.False(t, e.Resolved())
}

func TestCallEdgesCarryCallerSymbol(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("lib/fmtutil.go", doc("Format"))
	g.UpsertDocument("app/main.go", withCall(doc("Run"), "Run", "Format"))

	e := edgeFor(t, g, "app/main.go", "Format")
	assert.Equal(t, Calls, e.Kind)
	assert.Equal(t, "Run", e.SourceSymbol)
	assert.Equal(t, meta.Identity("lib/fmtutil.go"), e.Target)
}

func TestDependentsOfSorted(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("lib/core.go", doc("Core"))
	g.UpsertDocument("z/one.go", withImports(doc(), "Core"))
	g.UpsertDocument("a/two.go", withImports(doc(), "Core"))

	assert.Equal(t,
		[]meta.Identity{"a/two.go", "z/one.go"},
		g.DependentsOf("lib/core.go"))
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	g := newTestGraph(t)
	assert.Nil(t, g.RemoveDocument("ghost.go"))
	assert.Nil(t, g.Reresolve("ghost.go"))
	assert.Nil(t, g.DependentsOf("ghost.go"))
}

func TestHandleReuseAfterRemove(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("a.go", doc("A"))
	g.RemoveDocument("a.go")
	g.UpsertDocument("b.go", withImports(doc("B"), "A"))

	st := g.Stats()
	assert.Equal(t, 1, st.Nodes)
	assert.Equal(t, 1, st.UnresolvedEdges)
	assert.Equal(t, []meta.Identity{"b.go"}, g.Identities())

	// The freed arena slot must not leak the old node's exports.
	assert.False(t, edgeFor(t, g, "b.go", "A").Resolved())
}

func TestFindSymbolAndExporters(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("b/svc.go", doc("Serve"))
	g.UpsertDocument("a/svc.go", doc("Serve"))

	refs := g.FindSymbol("Serve")
	require.Len(t, refs, 2)
	assert.Equal(t, meta.Identity("a/svc.go"), refs[0].Identity)
	assert.Equal(t, meta.Identity("b/svc.go"), refs[1].Identity)

	assert.Equal(t, []meta.Identity{"a/svc.go", "b/svc.go"}, g.Exporters("Serve"))
	assert.Empty(t, g.FindSymbol("Missing"))
}

func TestMetadataLookup(t *testing.T) {
	g := newTestGraph(t)

	g.UpsertDocument("a.go", doc("A"))
	md, ok := g.Metadata("a.go")
	require.True(t, ok)
	assert.Contains(t, md.Exported, "A")

	_, ok = g.Metadata("missing.go")
	assert.False(t, ok)
}

func TestTypeRefEdgesOnlyWhenResolvable(t *testing.T) {
	g := newTestGraph(t)

	md := doc()
	md.TypeRefs = append(md.TypeRefs, meta.TypeRef{Name: "Widget"}, meta.TypeRef{Name: "Unknown"})
	g.UpsertDocument("lib/widget.go", doc("Widget"))
	g.UpsertDocument("app/ui.go", md)

	edges := g.EdgesFrom("app/ui.go")
	require.Len(t, edges, 1)
	assert.Equal(t, References, edges[0].Kind)
	assert.Equal(t, meta.Identity("lib/widget.go"), edges[0].Target)
}

func TestAffectedIdentitiesDeduplicated(t *testing.T) {
	deltas := []Delta{
		{Op: Added, Edge: Edge{Source: "b.go", Target: "a.go", TargetSymbol: "X"}},
		{Op: Removed, Edge: Edge{Source: "b.go", TargetSymbol: "X"}},
		{Op: Added, Edge: Edge{Source: "a.go", TargetSymbol: "Y"}},
	}
	assert.Equal(t, []meta.Identity{"a.go", "b.go"}, AffectedIdentities(deltas))
}
