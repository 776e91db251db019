// Package cache provides the content-addressed artifact cache. Entries
// are keyed by fingerprint, so a key is valid forever: content changes
// produce new keys rather than stale hits. Staleness therefore only
// enters through the dependent links between artifacts, and invalidation
// walks those links.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/lattice-dev/lattice/internal/fingerprint"
)

// Stats is a point-in-time snapshot of cache counters. Bytes is the
// approximate memory footprint of cached values, maintained only when
// the cache was built with a sizer.
type Stats struct {
	Entries       int
	Bytes         uint64
	Hits          uint64
	Misses        uint64
	Computes      uint64
	Evictions     uint64
	Invalidations uint64
}

type entry[V any] struct {
	fp  fingerprint.Fingerprint
	val V

	// dependents: fingerprints of artifacts computed FROM this entry.
	// Invalidating this entry cascades to them. parents is the reverse
	// link, kept so removing an entry unhooks it everywhere.
	dependents map[fingerprint.Fingerprint]struct{}
	parents    map[fingerprint.Fingerprint]struct{}

	size int
	elem *list.Element
}

// Cache is a fingerprint-keyed cache with at-most-once computation.
// Concurrent GetOrCompute calls for the same key share one computation;
// the rest block and receive its result. Capacity is enforced by LRU
// eviction: an entry with live dependents is pinned and skipped, but
// when only pinned entries remain the LRU one has its dependents
// invalidated first and is then evicted, so the size bound holds.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[fingerprint.Fingerprint]*entry[V]
	lru     *list.List // front = most recently used; values are *entry[V]
	bytes   uint64     // sum of entry sizes, guarded by mu

	capacity int
	size     func(V) int
	sf       singleflight.Group
	logger   *slog.Logger

	hits          atomic.Uint64
	misses        atomic.Uint64
	computes      atomic.Uint64
	evictions     atomic.Uint64
	invalidations atomic.Uint64
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithSizer supplies an estimator for a value's memory footprint. The
// running total is reported as Stats.Bytes.
func WithSizer[V any](size func(V) int) Option[V] {
	return func(c *Cache[V]) { c.size = size }
}

// New creates a cache holding at most capacity entries. capacity <= 0
// means unbounded. A nil logger falls back to slog.Default.
func New[V any](capacity int, logger *slog.Logger, opts ...Option[V]) *Cache[V] {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache[V]{
		entries:  make(map[fingerprint.Fingerprint]*entry[V]),
		lru:      list.New(),
		capacity: capacity,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for fp, if present.
func (c *Cache[V]) Get(fp fingerprint.Fingerprint) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		var zero V
		c.misses.Add(1)
		return zero, false
	}
	c.lru.MoveToFront(e.elem)
	c.hits.Add(1)
	return e.val, true
}

// GetOrCompute returns the cached value for fp, computing it at most
// once across concurrent callers. A failed computation is not cached;
// every waiter receives the error and a later call may retry.
func (c *Cache[V]) GetOrCompute(ctx context.Context, fp fingerprint.Fingerprint, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(fp); ok {
		return v, nil
	}

	v, err, _ := c.sf.Do(fp.Hex(), func() (any, error) {
		// Re-check under singleflight: a concurrent computation may have
		// landed between the miss and the flight.
		c.mu.Lock()
		if e, ok := c.entries[fp]; ok {
			c.lru.MoveToFront(e.elem)
			c.mu.Unlock()
			return e.val, nil
		}
		c.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.computes.Add(1)
		val, err := compute(ctx)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", fp.Short(), err)
		}
		c.put(fp, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Put stores a value computed elsewhere, e.g. loaded from a storage
// backend during warm-up.
func (c *Cache[V]) Put(fp fingerprint.Fingerprint, val V) {
	c.put(fp, val)
}

func (c *Cache[V]) put(fp fingerprint.Fingerprint, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sz int
	if c.size != nil {
		if sz = c.size(val); sz < 0 {
			sz = 0
		}
	}
	if e, ok := c.entries[fp]; ok {
		e.val = val
		c.bytes = c.bytes - uint64(e.size) + uint64(sz)
		e.size = sz
		c.lru.MoveToFront(e.elem)
		return
	}
	e := &entry[V]{
		fp:         fp,
		val:        val,
		size:       sz,
		dependents: make(map[fingerprint.Fingerprint]struct{}),
		parents:    make(map[fingerprint.Fingerprint]struct{}),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[fp] = e
	c.bytes += uint64(sz)
	c.evictOverflowLocked()
}

// AddDependent records that dependent was computed from base, so
// invalidating base must also invalidate dependent. Both sides may be
// linked before the dependent's value lands. Unknown base fingerprints
// are ignored: an absent entry has nothing to cascade from.
func (c *Cache[V]) AddDependent(base, dependent fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	be, ok := c.entries[base]
	if !ok {
		return
	}
	be.dependents[dependent] = struct{}{}
	if de, ok := c.entries[dependent]; ok {
		de.parents[base] = struct{}{}
	}
}

// Invalidate removes fp and, transitively, every artifact recorded as
// dependent on it. The walk keeps a visited set, so dependency cycles
// terminate. Returns the fingerprints actually removed.
func (c *Cache[V]) Invalidate(fp fingerprint.Fingerprint) []fingerprint.Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidateLocked(fp)
}

func (c *Cache[V]) invalidateLocked(fp fingerprint.Fingerprint) []fingerprint.Fingerprint {
	visited := make(map[fingerprint.Fingerprint]struct{})
	var removed []fingerprint.Fingerprint

	queue := []fingerprint.Fingerprint{fp}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := visited[cur]; seen {
			continue
		}
		visited[cur] = struct{}{}

		e, ok := c.entries[cur]
		if !ok {
			continue
		}
		for dep := range e.dependents {
			queue = append(queue, dep)
		}
		c.removeLocked(e)
		removed = append(removed, cur)
		c.invalidations.Add(1)
	}
	return removed
}

// Remove deletes a single entry without cascading.
func (c *Cache[V]) Remove(fp fingerprint.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fp]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	bytes := c.bytes
	c.mu.Unlock()
	return Stats{
		Entries:       n,
		Bytes:         bytes,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Computes:      c.computes.Load(),
		Evictions:     c.evictions.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// removeLocked unhooks e from the map, the LRU list, and both sides of
// the dependent links.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	delete(c.entries, e.fp)
	c.lru.Remove(e.elem)
	c.bytes -= uint64(e.size)
	for p := range e.parents {
		if pe, ok := c.entries[p]; ok {
			delete(pe.dependents, e.fp)
		}
	}
	for d := range e.dependents {
		if de, ok := c.entries[d]; ok {
			delete(de.parents, e.fp)
		}
	}
}

// evictOverflowLocked walks from the LRU tail evicting unpinned entries
// until the cache fits. The MRU entry is never touched. When only pinned
// entries remain, the LRU one has its dependents invalidated, then is
// evicted itself.
func (c *Cache[V]) evictOverflowLocked() {
	if c.capacity <= 0 {
		return
	}
	for len(c.entries) > c.capacity {
		evicted := false
		for elem := c.lru.Back(); elem != nil && elem != c.lru.Front(); elem = elem.Prev() {
			e := elem.Value.(*entry[V])
			if len(e.dependents) > 0 {
				continue
			}
			c.removeLocked(e)
			c.evictions.Add(1)
			evicted = true
			break
		}
		if evicted {
			continue
		}

		elem := c.lru.Back()
		if elem == nil || elem == c.lru.Front() {
			return
		}
		e := elem.Value.(*entry[V])
		c.logger.Warn("evicting pinned entry, invalidating dependents",
			"fingerprint", e.fp.Short(), "dependents", len(e.dependents))
		deps := make([]fingerprint.Fingerprint, 0, len(e.dependents))
		for dep := range e.dependents {
			deps = append(deps, dep)
		}
		for _, dep := range deps {
			c.invalidateLocked(dep)
		}
		// A dependency cycle may already have removed e.
		if _, still := c.entries[e.fp]; still {
			c.removeLocked(e)
			c.evictions.Add(1)
		}
	}
}
