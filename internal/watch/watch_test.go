package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) (*Watcher, context.CancelFunc) {
	t.Helper()
	w, err := New(root, 50*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	// Give the notify loop a beat to come up before mutating the tree.
	time.Sleep(50 * time.Millisecond)
	return w, cancel
}

func nextBatch(t *testing.T, w *Watcher) []Event {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event batch")
		return nil
	}
}

func TestWatcherCoalescesWrites(t *testing.T) {
	root := t.TempDir()
	w, cancel := startWatcher(t, root)
	defer cancel()

	path := filepath.Join(root, "main.go")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("package main"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	batch := nextBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, Event{Path: "main.go", Op: Modified}, batch[0])
}

func TestWatcherIgnoresUnsupportedFiles(t *testing.T) {
	root := t.TempDir()
	w, cancel := startWatcher(t, root)
	defer cancel()

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.py"), []byte("pass"), 0o644))

	batch := nextBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, "app.py", batch[0].Path)
}

func TestWatcherReportsRemoval(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.go")
	require.NoError(t, os.WriteFile(path, []byte("package gone"), 0o644))

	w, cancel := startWatcher(t, root)
	defer cancel()

	require.NoError(t, os.Remove(path))

	batch := nextBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, Event{Path: "gone.go", Op: Removed}, batch[0])
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, cancel := startWatcher(t, root)
	defer cancel()

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Let the new directory registration land before writing into it.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg"), 0o644))

	batch := nextBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, "pkg/util.go", batch[0].Path)
}

func TestEventsChannelClosesOnCancel(t *testing.T) {
	root := t.TempDir()
	w, cancel := startWatcher(t, root)
	cancel()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel did not close")
	}
}
