package lattice

import (
	"context"
	"fmt"

	"github.com/lattice-dev/lattice/internal/cache"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/meta"
)

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Documents       int
	Graph           graph.Stats
	Cache           cache.Stats
	StorageDegraded bool
}

// FindSymbol returns every definition of name across indexed documents,
// sorted by identity.
func (e *Engine) FindSymbol(name string) []graph.SymbolRef {
	return e.graph.FindSymbol(name)
}

// Metadata returns the extracted metadata for an indexed identity.
func (e *Engine) Metadata(id meta.Identity) (*meta.DocumentMetadata, bool) {
	return e.graph.Metadata(id)
}

// EdgesFrom returns the identity's outgoing relationship edges.
func (e *Engine) EdgesFrom(id meta.Identity) []graph.Edge {
	return e.graph.EdgesFrom(id)
}

// Identities returns every indexed identity, sorted.
func (e *Engine) Identities() []meta.Identity {
	return e.graph.Identities()
}

// Exporters returns the identities currently exporting the named symbol.
func (e *Engine) Exporters(name string) []meta.Identity {
	return e.graph.Exporters(name)
}

// DependentsOf returns the identities holding edges that resolve to id.
// When the identity is not in the live graph (a cold process that has
// not reindexed yet), the persisted dependents rows answer instead.
func (e *Engine) DependentsOf(ctx context.Context, id meta.Identity) ([]meta.Identity, error) {
	if deps := e.graph.DependentsOf(id); deps != nil {
		return deps, nil
	}
	if _, live := e.graph.Metadata(id); live {
		return nil, nil
	}
	if e.storageDown.Load() {
		return nil, nil
	}

	rows, err := e.backend.ScanDependents(ctx)
	if err != nil {
		return nil, fmt.Errorf("lattice: load stored dependents: %w", err)
	}
	return rows[id], nil
}

// Stats returns current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	docs := len(e.current)
	e.mu.Unlock()
	return Stats{
		Documents:       docs,
		Graph:           e.graph.Stats(),
		Cache:           e.cache.Stats(),
		StorageDegraded: e.storageDown.Load(),
	}
}
