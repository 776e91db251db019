// Package lattice provides an incremental, content-addressed code
// intelligence engine built on tree-sitter. It keeps a cross-file
// relationship graph for five languages (Go, Python, JavaScript,
// TypeScript, Rust) up to date as sources change, recomputing only what a
// change invalidates.
//
// # Pipeline
//
// Every change batch moves through one pass:
//
//  1. Fingerprint: content plus extraction config is hashed; an unchanged
//     fingerprint ends the unit's pass immediately.
//  2. Artifact: the document's metadata (symbols, imports, exports,
//     calls, type references) is fetched from the cache or storage, or
//     computed by parsing and extraction. Computation happens at most
//     once per fingerprint, no matter how many callers race.
//  3. Reconcile: the relationship graph swaps the document's edge set,
//     resolving imports and calls against known exporters. Unresolved
//     edges are kept and resolve retroactively when an exporter appears.
//  4. Propagate: identities affected by edge deltas are re-resolved
//     until the frontier settles; cycles terminate via a visited set.
//
// # Usage
//
// Create an Engine, index a tree, and query:
//
//	e, err := lattice.New(cfg)
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	res, err := e.IndexAll(ctx)
//
//	refs := e.FindSymbol("Render")
//	deps, err := e.DependentsOf(ctx, "lib/render.go")
//
// [Engine.Watch] keeps the index current from debounced filesystem
// events. [Engine.ApplyChanges] is the lower-level entry point for
// embedders that already know what changed.
//
// # Persistence
//
// Storage backends (SQLite, Badger, bbolt, memory) are a write-through
// warm cache keyed by fingerprint, never a source of truth: a cold
// process re-derives the graph but skips parsing anything whose
// fingerprint is already stored. A failing backend degrades the engine
// to memory-only operation instead of failing updates.
package lattice
