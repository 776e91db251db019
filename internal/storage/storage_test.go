package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

func fpOf(s string) fingerprint.Fingerprint {
	return fingerprint.New([]byte(s), meta.LangGo, fingerprint.Config{})
}

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	backends := map[string]Backend{
		"memory": NewMemory(),
	}
	if sq, err := OpenSQLite(filepath.Join(dir, "lattice.db"), nil); err == nil {
		backends["sqlite"] = sq
	} else {
		t.Logf("sqlite unavailable: %v", err)
	}
	bb, err := OpenBolt(filepath.Join(dir, "lattice.bolt"), nil)
	require.NoError(t, err)
	backends["bolt"] = bb
	bd, err := OpenBadger(filepath.Join(dir, "badger"), nil)
	require.NoError(t, err)
	backends["badger"] = bd

	t.Cleanup(func() {
		for _, b := range backends {
			b.Close()
		}
	})
	return backends
}

func TestBackendArtifactRoundtrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			key := fpOf("app/main.go")

			_, err := b.Get(ctx, key)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Put(ctx, key, []byte("payload")))
			got, err := b.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("payload"), got)

			// Overwrite wins.
			require.NoError(t, b.Put(ctx, key, []byte("newer")))
			got, err = b.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("newer"), got)

			require.NoError(t, b.Delete(ctx, key))
			_, err = b.Get(ctx, key)
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting a missing key is not an error.
			assert.NoError(t, b.Delete(ctx, key))
		})
	}
}

func TestBackendDependents(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.PutDependents(ctx, "lib/core.go", []meta.Identity{"app/a.go", "app/b.go"}))
			require.NoError(t, b.PutDependents(ctx, "lib/util.go", []meta.Identity{"app/a.go"}))

			rows, err := b.ScanDependents(ctx)
			require.NoError(t, err)
			assert.Equal(t, []meta.Identity{"app/a.go", "app/b.go"}, rows["lib/core.go"])
			assert.Equal(t, []meta.Identity{"app/a.go"}, rows["lib/util.go"])

			// Empty slice clears the row.
			require.NoError(t, b.PutDependents(ctx, "lib/core.go", nil))
			rows, err = b.ScanDependents(ctx)
			require.NoError(t, err)
			assert.NotContains(t, rows, meta.Identity("lib/core.go"))
			assert.Len(t, rows, 1)
		})
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()

	b, err := Open(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	b, err = Open(Config{Driver: "bolt", Path: filepath.Join(dir, "x.bolt")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Bolt{}, b)
	b.Close()

	_, err = Open(Config{Driver: "cassandra"}, nil)
	assert.Error(t, err)
}

func TestOpenPathRequired(t *testing.T) {
	for _, driver := range []string{"sqlite", "badger", "bolt"} {
		_, err := Open(Config{Driver: driver}, nil)
		assert.Error(t, err, driver)
	}
}

func TestRecordCodecRoundtrip(t *testing.T) {
	md := meta.NewDocumentMetadata()
	md.Defined["Run"] = meta.SymbolInfo{Name: "Run", Kind: meta.KindFunction, Visibility: meta.Public}
	md.Exported["Run"] = meta.ExportInfo{SymbolName: "Run", Kind: meta.KindFunction}

	rec := &Record{
		Identity:  "app/main.go",
		Language:  meta.LangGo,
		SourceLen: 512,
		Metadata:  md,
		SavedAt:   time.Now().UTC(),
	}
	blob, err := EncodeRecord(rec)
	require.NoError(t, err)

	got, err := DecodeRecord(blob)
	require.NoError(t, err)
	assert.Equal(t, rec.Identity, got.Identity)
	assert.Equal(t, rec.SourceLen, got.SourceLen)
	assert.Contains(t, got.Metadata.Defined, "Run")

	_, err = DecodeRecord([]byte("{not json"))
	assert.Error(t, err)
}
