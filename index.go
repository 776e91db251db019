package lattice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lattice-dev/lattice/internal/meta"
	"github.com/lattice-dev/lattice/internal/scan"
	"github.com/lattice-dev/lattice/internal/watch"
)

// IndexAll scans the configured root and applies every supported source
// file as one batch. Files the engine knows about that are no longer on
// disk become tombstones, so a full index converges to the tree's state.
func (e *Engine) IndexAll(ctx context.Context) (*ApplyResult, error) {
	scanner := scan.New(e.cfg.Root, scan.Options{
		Include: e.cfg.Scan.Include,
		Exclude: e.cfg.Scan.Exclude,
	}, e.logger)

	paths, err := scanner.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("lattice: scan: %w", err)
	}

	onDisk := make(map[meta.Identity]struct{}, len(paths))
	events := make([]ChangeEvent, 0, len(paths))
	for _, rel := range paths {
		id := meta.Identity(rel)
		onDisk[id] = struct{}{}
		content, err := os.ReadFile(filepath.Join(e.cfg.Root, filepath.FromSlash(rel)))
		if err != nil {
			e.logger.Warn("skipping unreadable file", "path", rel, "error", err)
			continue
		}
		events = append(events, ChangeEvent{Identity: id, Content: content})
	}

	e.mu.Lock()
	for _, id := range e.sortedCurrent() {
		if _, ok := onDisk[id]; !ok {
			events = append(events, ChangeEvent{Identity: id, Tombstone: true})
		}
	}
	e.mu.Unlock()

	return e.ApplyChanges(ctx, events)
}

// IndexPaths applies the given repository-relative paths. Paths that no
// longer exist become tombstones.
func (e *Engine) IndexPaths(ctx context.Context, paths []string) (*ApplyResult, error) {
	events := make([]ChangeEvent, 0, len(paths))
	for _, rel := range paths {
		events = append(events, e.eventForPath(rel))
	}
	return e.ApplyChanges(ctx, events)
}

// Watch blocks applying debounced filesystem changes under the root
// until ctx is cancelled. Batch errors are logged, not fatal; a broken
// file must not stop the watch loop.
func (e *Engine) Watch(ctx context.Context) error {
	w, err := watch.New(e.cfg.Root, e.cfg.Watch.Debounce, e.logger)
	if err != nil {
		return fmt.Errorf("lattice: watch: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for batch := range w.Events() {
		events := make([]ChangeEvent, 0, len(batch))
		for _, ev := range batch {
			if ev.Op == watch.Removed {
				events = append(events, ChangeEvent{Identity: meta.Identity(ev.Path), Tombstone: true})
				continue
			}
			events = append(events, e.eventForPath(ev.Path))
		}
		if _, err := e.ApplyChanges(ctx, events); err != nil {
			e.logger.Warn("watch batch had errors", "error", err)
		}
	}

	err = <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// eventForPath reads a repository-relative path into a change event,
// tombstoning it when the file is gone.
func (e *Engine) eventForPath(rel string) ChangeEvent {
	id := meta.Identity(rel)
	content, err := os.ReadFile(filepath.Join(e.cfg.Root, filepath.FromSlash(rel)))
	if err != nil {
		return ChangeEvent{Identity: id, Tombstone: true}
	}
	return ChangeEvent{Identity: id, Content: content}
}
