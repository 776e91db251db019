package storage

import (
	"context"
	"sync"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

// Memory is the in-process backend. It is the default driver and the
// degrade target when a persistent backend keeps failing.
type Memory struct {
	mu         sync.RWMutex
	artifacts  map[fingerprint.Fingerprint][]byte
	dependents map[meta.Identity][]meta.Identity
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		artifacts:  make(map[fingerprint.Fingerprint][]byte),
		dependents: make(map[meta.Identity][]meta.Identity),
	}
}

func (m *Memory) Put(_ context.Context, key fingerprint.Fingerprint, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.artifacts[key] = cp
	return nil
}

func (m *Memory) Get(_ context.Context, key fingerprint.Fingerprint) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.artifacts[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Delete(_ context.Context, key fingerprint.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.artifacts, key)
	return nil
}

func (m *Memory) PutDependents(_ context.Context, id meta.Identity, dependents []meta.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(dependents) == 0 {
		delete(m.dependents, id)
		return nil
	}
	cp := make([]meta.Identity, len(dependents))
	copy(cp, dependents)
	m.dependents[id] = cp
	return nil
}

func (m *Memory) ScanDependents(_ context.Context) (map[meta.Identity][]meta.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[meta.Identity][]meta.Identity, len(m.dependents))
	for id, deps := range m.dependents {
		cp := make([]meta.Identity, len(deps))
		copy(cp, deps)
		out[id] = cp
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
