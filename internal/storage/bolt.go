package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

var (
	boltArtifactsBucket  = []byte("artifacts")
	boltDependentsBucket = []byte("dependents")
)

// Bolt persists artifacts in a single-file bbolt database. The simplest
// durable option for small and medium indexes.
type Bolt struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenBolt opens (creating if needed) the database at path and ensures
// the buckets exist.
func OpenBolt(path string, logger *slog.Logger) (*Bolt, error) {
	if path == "" {
		return nil, errors.New("storage: bolt requires a path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(boltArtifactsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(boltDependentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &Bolt{db: db, logger: logger}, nil
}

func (b *Bolt) Put(ctx context.Context, key fingerprint.Fingerprint, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltArtifactsBucket).Put([]byte(key.Hex()), value)
	})
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (b *Bolt) Get(ctx context.Context, key fingerprint.Fingerprint) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltArtifactsBucket).Get([]byte(key.Hex()))
		if v == nil {
			return ErrNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key.Short(), err)
	}
	return value, nil
}

func (b *Bolt) Delete(ctx context.Context, key fingerprint.Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltArtifactsBucket).Delete([]byte(key.Hex()))
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (b *Bolt) PutDependents(ctx context.Context, id meta.Identity, dependents []meta.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltDependentsBucket)
		if len(dependents) == 0 {
			return bucket.Delete([]byte(id))
		}
		blob, err := json.Marshal(dependents)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), blob)
	})
	if err != nil {
		return fmt.Errorf("put dependents %s: %w", id, err)
	}
	return nil
}

func (b *Bolt) ScanDependents(ctx context.Context) (map[meta.Identity][]meta.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[meta.Identity][]meta.Identity)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltDependentsBucket).ForEach(func(k, v []byte) error {
			var deps []meta.Identity
			if err := json.Unmarshal(v, &deps); err != nil {
				b.logger.Warn("skipping corrupt dependents row", "identity", string(k), "error", err)
				return nil
			}
			out[meta.Identity(k)] = deps
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan dependents: %w", err)
	}
	return out, nil
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
