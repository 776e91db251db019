package lattice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lattice-dev/lattice/config"
	"github.com/lattice-dev/lattice/internal/cache"
	"github.com/lattice-dev/lattice/internal/extract"
	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/graph"
	"github.com/lattice-dev/lattice/internal/meta"
	"github.com/lattice-dev/lattice/internal/parse"
	"github.com/lattice-dev/lattice/internal/storage"
)

var (
	// ErrFingerprintCollision reports that a cached artifact's recorded
	// source length disagrees with the content that hashed to the same
	// fingerprint. Astronomically unlikely, but never silent.
	ErrFingerprintCollision = errors.New("lattice: fingerprint collision detected")

	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("lattice: engine is closed")
)

// Engine is the incremental update coordinator. It owns the relationship
// graph, the artifact cache, and the storage backend, and drives every
// change batch through the same pipeline: fingerprint, cache lookup,
// parse, extract, graph reconciliation, invalidation propagation.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	graph   *graph.Graph
	cache   *cache.Cache[*storage.Record]
	backend storage.Backend

	fpcfg     fingerprint.Config
	workers   int
	languages map[meta.LanguageTag]bool // nil means all supported
	capacity  int
	closed    atomic.Bool

	// mu serializes update passes. Queries only take graph/cache locks,
	// so reads stay live while a pass runs.
	mu      sync.Mutex
	current map[meta.Identity]fingerprint.Fingerprint

	// storageDown flips when the backend exhausts its retries; the
	// engine then runs memory-only instead of failing updates.
	storageDown atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default logs text to stderr at the
// configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBackend injects a storage backend, bypassing config.Storage.
// Mostly for tests and embedders that manage their own persistence.
func WithBackend(b storage.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithLanguages restricts which languages the Engine processes; units in
// other languages are skipped entirely.
func WithLanguages(languages ...meta.LanguageTag) Option {
	return func(e *Engine) {
		e.languages = make(map[meta.LanguageTag]bool, len(languages))
		for _, lang := range languages {
			e.languages[lang] = true
		}
	}
}

// WithWorkers bounds parallel extraction, overriding config.Workers.
// One worker means serial extraction.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithCacheCapacity overrides config.Cache.Capacity.
func WithCacheCapacity(n int) Option {
	return func(e *Engine) { e.capacity = n }
}

// New creates an Engine from cfg. The storage backend named by
// cfg.Storage is opened and wrapped with bounded retries.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		workers:  cfg.Workers,
		capacity: cfg.Cache.Capacity,
		current:  make(map[meta.Identity]fingerprint.Fingerprint),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.backend == nil {
		b, err := storage.Open(cfg.Storage, e.logger)
		if err != nil {
			return nil, fmt.Errorf("lattice: open storage: %w", err)
		}
		e.backend = storage.WithRetry(b, 3, 100*time.Millisecond, e.logger)
	}

	langs := parse.SupportedLanguages()
	names := make([]string, len(langs))
	for i, l := range langs {
		names[i] = string(l)
	}
	e.fpcfg = fingerprint.Config{RuleVersion: extract.RuleVersion, Languages: names}

	e.graph = graph.New(e.logger)
	e.cache = cache.New[*storage.Record](e.capacity, e.logger,
		cache.WithSizer(func(r *storage.Record) int { return r.ApproxSize() }))
	return e, nil
}

// Close releases the storage backend. Further update passes fail with
// ErrClosed; queries keep answering from the in-memory graph.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close()
}

// ChangeEvent is one unit of change handed to ApplyChanges. Tombstone
// marks a deletion; Content is ignored for tombstones.
type ChangeEvent struct {
	Identity  meta.Identity
	Content   []byte
	Tombstone bool
}

// UnitError records a per-unit failure inside a batch.
type UnitError struct {
	Identity meta.Identity
	Err      error
}

func (u UnitError) Error() string {
	return fmt.Sprintf("%s: %v", u.Identity, u.Err)
}

func (u UnitError) Unwrap() error { return u.Err }

// ApplyResult summarizes one update pass.
type ApplyResult struct {
	Updated   int
	Unchanged int
	Removed   int
	Degraded  int
	// Affected lists every identity whose edge set changed, including
	// neighbors touched by invalidation propagation.
	Affected []meta.Identity
	Errors   []UnitError
}

// unit is the in-flight form of one change event.
type unit struct {
	id      meta.Identity
	lang    meta.LanguageTag
	content []byte
	fp      fingerprint.Fingerprint
	remove  bool

	rec *storage.Record
	err error
}

// ApplyChanges runs one update pass over a batch of change events.
// Events are deduplicated by identity (last one wins) and processed in
// lexicographic order, so a batch produces the same graph regardless of
// arrival order. Failures are per-unit: the batch continues past a
// broken file, and the aggregate error wraps the first failure.
//
// For each unit:
//  1. Fingerprint content plus extraction config.
//  2. Unchanged fingerprints end the unit's pass (cache hit).
//  3. Otherwise the artifact is computed at most once: warm-read from
//     storage, else parse and extract (in parallel across units).
//  4. Commit serially: reconcile the graph, persist write-through.
//  5. Propagate invalidation until the affected frontier settles, then
//     recache the derived edge-set artifact of every touched source.
func (e *Engine) ApplyChanges(ctx context.Context, events []ChangeEvent) (*ApplyResult, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &ApplyResult{}
	units := e.prepare(events, res)
	if len(units) == 0 {
		return res, nil
	}

	if err := e.extractAll(ctx, units); err != nil {
		return res, fmt.Errorf("lattice: update pass cancelled: %w", err)
	}

	deltas := e.commit(ctx, units, res)
	deltas = append(deltas, e.propagate(ctx, units, deltas)...)
	e.refreshEdgeArtifacts(units, deltas)

	res.Affected = graph.AffectedIdentities(deltas)
	e.logger.Info("update pass settled",
		"updated", res.Updated, "unchanged", res.Unchanged,
		"removed", res.Removed, "affected", len(res.Affected),
		"errors", len(res.Errors))

	if len(res.Errors) > 0 {
		return res, fmt.Errorf("lattice: update pass had %d error(s): %w", len(res.Errors), res.Errors[0])
	}
	return res, nil
}

// prepare deduplicates and orders the batch, fingerprints content, and
// drops unchanged units.
func (e *Engine) prepare(events []ChangeEvent, res *ApplyResult) []*unit {
	byID := make(map[meta.Identity]ChangeEvent, len(events))
	for _, ev := range events {
		byID[ev.Identity] = ev
	}
	ids := make([]meta.Identity, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	meta.SortIdentities(ids)

	var units []*unit
	for _, id := range ids {
		ev := byID[id]
		if ev.Tombstone {
			if _, known := e.current[id]; known {
				units = append(units, &unit{id: id, remove: true})
			}
			continue
		}
		lang, ok := parse.LanguageForFile(string(id))
		if !ok {
			continue // unsupported extension
		}
		if e.languages != nil && !e.languages[lang] {
			continue // filtered out
		}
		fp := fingerprint.New(ev.Content, lang, e.fpcfg)
		if cur, known := e.current[id]; known && cur == fp {
			res.Unchanged++
			continue
		}
		units = append(units, &unit{id: id, lang: lang, content: ev.Content, fp: fp})
	}
	return units
}

// extractAll computes artifacts for every non-tombstone unit using a
// worker pool. Each worker owns its parser; tree-sitter parsers are not
// safe to share. Cancellation aborts the whole pass: the returned error
// is the context's, and nothing has been committed yet.
func (e *Engine) extractAll(ctx context.Context, units []*unit) error {
	var work []*unit
	for _, u := range units {
		if !u.remove {
			work = append(work, u)
		}
	}
	if len(work) == 0 {
		return nil
	}

	workers := min(e.workers, len(work))
	workCh := make(chan *unit, len(work))
	for _, u := range work {
		workCh <- u
	}
	close(workCh)

	var eg errgroup.Group
	for i := 0; i < workers; i++ {
		eg.Go(func() error {
			adapter := parse.NewAdapter()
			for u := range workCh {
				if err := ctx.Err(); err != nil {
					return err
				}
				u.rec, u.err = e.artifact(ctx, adapter, u)
			}
			return nil
		})
	}
	return eg.Wait()
}

// artifact returns the analysis record for a unit, computing it at most
// once per fingerprint across concurrent callers.
func (e *Engine) artifact(ctx context.Context, adapter *parse.Adapter, u *unit) (*storage.Record, error) {
	rec, err := e.cache.GetOrCompute(ctx, u.fp, func(ctx context.Context) (*storage.Record, error) {
		if rec, ok := e.warmRead(ctx, u); ok {
			return rec, nil
		}

		tree, err := adapter.Parse(ctx, u.content, u.lang)
		var failure *parse.Failure
		if errors.As(err, &failure) && failure.Partial != nil {
			tree = failure.Partial
		} else if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		defer tree.Close()

		return &storage.Record{
			Identity:  u.id,
			Language:  u.lang,
			SourceLen: len(u.content),
			Metadata:  extract.Extract(tree),
			SavedAt:   time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if rec.SourceLen != len(u.content) {
		return nil, fmt.Errorf("%w: fingerprint %s, cached %d bytes, content %d bytes",
			ErrFingerprintCollision, u.fp.Short(), rec.SourceLen, len(u.content))
	}
	return rec, nil
}

// warmRead tries the storage backend before paying for a parse. A stored
// record whose source length disagrees with the content in hand means a
// fingerprint collision or corruption; it is ignored and recomputed.
func (e *Engine) warmRead(ctx context.Context, u *unit) (*storage.Record, bool) {
	if e.storageDown.Load() {
		return nil, false
	}
	blob, err := e.backend.Get(ctx, u.fp)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		e.degradeStorage("warm read", err)
		return nil, false
	}
	rec, err := storage.DecodeRecord(blob)
	if err != nil {
		e.logger.Warn("discarding corrupt stored artifact", "identity", string(u.id), "error", err)
		return nil, false
	}
	if rec.SourceLen != len(u.content) {
		e.logger.Warn("stored artifact length mismatch, recomputing",
			"identity", string(u.id), "fingerprint", u.fp.Short(),
			"stored_len", rec.SourceLen, "content_len", len(u.content))
		return nil, false
	}
	return rec, true
}

// commit applies extracted units to the graph in batch order and
// persists them write-through.
func (e *Engine) commit(ctx context.Context, units []*unit, res *ApplyResult) []graph.Delta {
	var deltas []graph.Delta
	for _, u := range units {
		if u.err != nil {
			res.Errors = append(res.Errors, UnitError{Identity: u.id, Err: u.err})
			e.logger.Warn("skipping unit", "identity", string(u.id), "error", u.err)
			continue
		}
		if u.remove {
			if fp, ok := e.current[u.id]; ok {
				e.cache.Invalidate(fp)
				e.persistDelete(ctx, fp)
			}
			deltas = append(deltas, e.graph.RemoveDocument(u.id)...)
			delete(e.current, u.id)
			e.persistDependents(ctx, u.id, nil)
			res.Removed++
			continue
		}

		old := e.current[u.id]
		deltas = append(deltas, e.graph.UpsertDocument(u.id, u.rec.Metadata)...)
		e.current[u.id] = u.fp
		if !old.IsZero() && old != u.fp {
			// The superseded artifact and everything derived from it.
			e.cache.Invalidate(old)
		}
		e.persist(ctx, u)

		if u.rec.Metadata.Degraded {
			res.Degraded++
		}
		res.Updated++
	}
	return deltas
}

// propagate walks the invalidation frontier: every identity affected by
// a delta is re-resolved, and new deltas extend the frontier until it
// settles. The visited set makes dependency cycles terminate.
func (e *Engine) propagate(ctx context.Context, units []*unit, deltas []graph.Delta) []graph.Delta {
	visited := make(map[meta.Identity]struct{}, len(units))
	for _, u := range units {
		visited[u.id] = struct{}{}
	}

	var extra []graph.Delta
	queue := graph.AffectedIdentities(deltas)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		more := e.graph.Reresolve(id)
		if len(more) == 0 {
			continue
		}
		extra = append(extra, more...)
		queue = append(queue, graph.AffectedIdentities(more)...)
	}

	// Dependents rows feed the next warm start; refresh them for every
	// identity the pass touched.
	for id := range visited {
		if _, known := e.current[id]; known {
			e.persistDependents(ctx, id, e.graph.DependentsOf(id))
		}
	}
	return extra
}

// refreshEdgeArtifacts recaches the derived edge-set artifact for every
// identity whose outgoing edges may have changed this pass: each updated
// unit plus every delta source. It runs after resolution has settled, so
// the artifact records final targets rather than mid-pass state.
func (e *Engine) refreshEdgeArtifacts(units []*unit, deltas []graph.Delta) {
	sources := make(map[meta.Identity]struct{}, len(units))
	for _, u := range units {
		if !u.remove && u.err == nil {
			sources[u.id] = struct{}{}
		}
	}
	for _, d := range deltas {
		sources[d.Edge.Source] = struct{}{}
	}
	for id := range sources {
		if fp, ok := e.current[id]; ok {
			e.refreshEdgeArtifact(id, fp)
		}
	}
}

// refreshEdgeArtifact caches the unit's current edge set under a key
// derived from its fingerprint. The artifact is linked as a dependent of
// the document and of every exporter its edges resolve to, so
// invalidating any of those also drops the cached edge set.
func (e *Engine) refreshEdgeArtifact(id meta.Identity, fp fingerprint.Fingerprint) {
	edges := e.graph.EdgesFrom(id)
	edgeFP := fingerprint.Derive("edges", fp)
	e.cache.Put(edgeFP, &storage.Record{
		Identity: id,
		Edges:    edges,
		SavedAt:  time.Now().UTC(),
	})
	e.cache.AddDependent(fp, edgeFP)
	for _, edge := range edges {
		if edge.Target == "" || edge.Target == id {
			continue
		}
		if tfp, ok := e.current[edge.Target]; ok {
			e.cache.AddDependent(tfp, edgeFP)
		}
	}
}

func (e *Engine) persist(ctx context.Context, u *unit) {
	if e.storageDown.Load() {
		return
	}
	blob, err := storage.EncodeRecord(u.rec)
	if err != nil {
		e.logger.Warn("failed to encode artifact", "identity", string(u.id), "error", err)
		return
	}
	if err := e.backend.Put(ctx, u.fp, blob); err != nil {
		e.degradeStorage("put", err)
	}
}

func (e *Engine) persistDelete(ctx context.Context, fp fingerprint.Fingerprint) {
	if e.storageDown.Load() {
		return
	}
	if err := e.backend.Delete(ctx, fp); err != nil {
		e.degradeStorage("delete", err)
	}
}

func (e *Engine) persistDependents(ctx context.Context, id meta.Identity, deps []meta.Identity) {
	if e.storageDown.Load() {
		return
	}
	if err := e.backend.PutDependents(ctx, id, deps); err != nil {
		e.degradeStorage("put dependents", err)
	}
}

// degradeStorage switches the engine to memory-only operation after the
// backend has exhausted its retries. Updates keep flowing; only warmth
// across restarts is lost.
func (e *Engine) degradeStorage(op string, err error) {
	if e.storageDown.CompareAndSwap(false, true) {
		e.logger.Warn("storage backend failing, degrading to memory-only",
			"op", op, "error", err)
	}
}

// StorageDegraded reports whether the engine has given up on the
// backend for this process lifetime.
func (e *Engine) StorageDegraded() bool {
	return e.storageDown.Load()
}

// sortedCurrent returns the known identities in lexicographic order.
// Callers must hold e.mu.
func (e *Engine) sortedCurrent() []meta.Identity {
	ids := make([]meta.Identity, 0, len(e.current))
	for id := range e.current {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
