package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

// Key prefixes keep artifacts and dependent rows in disjoint ranges so
// prefix scans stay cheap.
const (
	badgerArtifactPrefix  = "a/"
	badgerDependentPrefix = "d/"
)

// Badger persists artifacts in a Badger LSM store. Suited to large
// indexes where write throughput matters more than a single-file layout.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadger opens (creating if needed) a Badger database rooted at dir.
func OpenBadger(dir string, logger *slog.Logger) (*Badger, error) {
	if dir == "" {
		return nil, errors.New("storage: badger requires a path")
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &Badger{db: db, logger: logger}, nil
}

func artifactKey(key fingerprint.Fingerprint) []byte {
	return []byte(badgerArtifactPrefix + key.Hex())
}

func dependentKey(id meta.Identity) []byte {
	return []byte(badgerDependentPrefix + string(id))
}

func (b *Badger) Put(ctx context.Context, key fingerprint.Fingerprint, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (b *Badger) Get(ctx context.Context, key fingerprint.Fingerprint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key.Short(), err)
	}
	return value, nil
}

func (b *Badger) Delete(ctx context.Context, key fingerprint.Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(artifactKey(key))
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (b *Badger) PutDependents(ctx context.Context, id meta.Identity, dependents []meta.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if len(dependents) == 0 {
			return txn.Delete(dependentKey(id))
		}
		blob, err := json.Marshal(dependents)
		if err != nil {
			return err
		}
		return txn.Set(dependentKey(id), blob)
	})
	if err != nil {
		return fmt.Errorf("put dependents %s: %w", id, err)
	}
	return nil
}

func (b *Badger) ScanDependents(ctx context.Context) (map[meta.Identity][]meta.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[meta.Identity][]meta.Identity)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerDependentPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := meta.Identity(item.Key()[len(badgerDependentPrefix):])
			blob, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var deps []meta.Identity
			if err := json.Unmarshal(blob, &deps); err != nil {
				b.logger.Warn("skipping corrupt dependents row", "identity", string(id), "error", err)
				continue
			}
			out[id] = deps
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan dependents: %w", err)
	}
	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
