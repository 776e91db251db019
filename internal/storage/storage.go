// Package storage provides the pluggable persistence backends behind the
// cache. Persistence is a warm-start layer, not a source of truth: every
// artifact is keyed by fingerprint, so a backend never serves stale data,
// only data or ErrNotFound.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

// ErrNotFound is returned by Get when the key has no stored artifact.
var ErrNotFound = errors.New("storage: not found")

// Backend is the persistence contract. Implementations must be safe for
// concurrent use. Artifact values are opaque bytes; encoding lives in the
// codec, not in the backend.
type Backend interface {
	Put(ctx context.Context, key fingerprint.Fingerprint, value []byte) error
	Get(ctx context.Context, key fingerprint.Fingerprint) ([]byte, error)
	Delete(ctx context.Context, key fingerprint.Fingerprint) error

	// PutDependents persists the reverse-dependency row for a source
	// unit. An empty slice clears the row.
	PutDependents(ctx context.Context, id meta.Identity, dependents []meta.Identity) error
	// ScanDependents loads every reverse-dependency row.
	ScanDependents(ctx context.Context) (map[meta.Identity][]meta.Identity, error)

	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	// Driver is one of "memory", "sqlite", "badger", "bolt".
	Driver string `yaml:"driver"`
	// Path is the database file (sqlite, bolt) or directory (badger).
	// Ignored by the memory driver.
	Path string `yaml:"path"`
}

// Open constructs the backend named by cfg.Driver. A nil logger falls
// back to slog.Default.
func Open(cfg Config, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path, logger)
	case "badger":
		return OpenBadger(cfg.Path, logger)
	case "bolt":
		return OpenBolt(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
