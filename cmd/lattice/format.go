package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lattice-dev/lattice"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/meta"
)

func validateFormat(format string) error {
	switch format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected json or text)", format)
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputIndexResult(res *lattice.ApplyResult, stats lattice.Stats, took time.Duration) error {
	if flagFormat == "json" {
		return outputJSON(map[string]any{
			"updated":   res.Updated,
			"unchanged": res.Unchanged,
			"removed":   res.Removed,
			"degraded":  res.Degraded,
			"errors":    len(res.Errors),
			"documents": stats.Documents,
			"edges":     stats.Graph.Edges,
			"took_ms":   took.Milliseconds(),
		})
	}
	fmt.Printf("indexed %d file(s) in %s: %d updated, %d unchanged, %d degraded\n",
		stats.Documents, took.Round(time.Millisecond), res.Updated, res.Unchanged, res.Degraded)
	fmt.Printf("graph: %d nodes, %d edges (%d unresolved)\n",
		stats.Graph.Nodes, stats.Graph.Edges, stats.Graph.UnresolvedEdges)
	for _, ue := range res.Errors {
		fmt.Printf("error: %s\n", ue)
	}
	return nil
}

func outputSymbols(name string, refs []graph.SymbolRef) error {
	if flagFormat == "json" {
		return outputJSON(refs)
	}
	if len(refs) == 0 {
		fmt.Printf("no definitions of %q\n", name)
		return nil
	}
	for _, ref := range refs {
		fmt.Printf("%s:%d:%d\t%s\t%s\n",
			ref.Identity, ref.Symbol.Position.Line+1, ref.Symbol.Position.Col+1,
			ref.Symbol.Kind, ref.Symbol.Name)
	}
	return nil
}

func outputIdentities(label string, ids []meta.Identity) error {
	if flagFormat == "json" {
		return outputJSON(map[string]any{label: ids})
	}
	if len(ids) == 0 {
		fmt.Printf("no %s\n", label)
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func outputEdges(id string, edges []graph.Edge) error {
	if flagFormat == "json" {
		return outputJSON(edges)
	}
	if len(edges) == 0 {
		fmt.Printf("no edges from %s\n", id)
		return nil
	}
	for _, e := range edges {
		target := string(e.Target)
		if target == "" {
			target = "(unresolved)"
		}
		fmt.Printf("%s\t%s\t-> %s\n", e.Kind, e.TargetSymbol, target)
	}
	return nil
}

func outputStats(st lattice.Stats) error {
	if flagFormat == "json" {
		return outputJSON(st)
	}
	fmt.Printf("documents:        %d\n", st.Documents)
	fmt.Printf("graph nodes:      %d\n", st.Graph.Nodes)
	fmt.Printf("graph edges:      %d (%d unresolved)\n", st.Graph.Edges, st.Graph.UnresolvedEdges)
	fmt.Printf("cache entries:    %d\n", st.Cache.Entries)
	fmt.Printf("cache bytes:      %d\n", st.Cache.Bytes)
	fmt.Printf("cache hits:       %d\n", st.Cache.Hits)
	fmt.Printf("cache computes:   %d\n", st.Cache.Computes)
	fmt.Printf("cache evictions:  %d\n", st.Cache.Evictions)
	if st.StorageDegraded {
		fmt.Println("storage:          DEGRADED (memory-only)")
	}
	return nil
}
