// Package watch turns raw filesystem notifications into debounced
// batches of source-unit changes. Editors and build tools fire storms of
// events for one logical save; the debounce window coalesces them so a
// downstream update pass sees each unit once.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lattice-dev/lattice/internal/parse"
)

// Op classifies a coalesced change.
type Op int

const (
	Modified Op = iota
	Removed
)

func (op Op) String() string {
	if op == Removed {
		return "removed"
	}
	return "modified"
}

// Event is one coalesced change to a supported source file. Path is
// repository-relative with slashes.
type Event struct {
	Path string
	Op   Op
}

// Watcher emits debounced event batches for a repository root.
type Watcher struct {
	root     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	events   chan []Event
	logger   *slog.Logger
}

// New creates a watcher for root, recursively registering every
// directory except dot-directories.
func New(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		root:     root,
		debounce: debounce,
		fsw:      fsw,
		events:   make(chan []Event, 8),
		logger:   logger,
	}
	if err := w.addDirs(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events delivers batches produced by Run. The channel closes when Run
// returns.
func (w *Watcher) Events() <-chan []Event {
	return w.events
}

// Run blocks pumping filesystem notifications into debounced batches
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)
	defer w.fsw.Close()

	pending := make(map[string]Op)
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]Event, 0, len(pending))
		for path, op := range pending {
			batch = append(batch, Event{Path: path, Op: op})
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		pending = make(map[string]Op)

		select {
		case w.events <- batch:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				flush()
				return nil
			}
			if w.observe(ev, pending) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				flush()
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			flush()
		}
	}
}

// observe folds one raw notification into the pending set, returning
// whether the debounce window should restart.
func (w *Watcher) observe(ev fsnotify.Event, pending map[string]Op) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}

	// New directories must be registered before anything inside them
	// changes.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addDirs(ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return false
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if _, ok := parse.LanguageForFile(rel); !ok {
		return false
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		pending[rel] = Removed
	} else {
		pending[rel] = Modified
	}
	return true
}

func (w *Watcher) addDirs(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
