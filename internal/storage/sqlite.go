package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lattice-dev/lattice/internal/fingerprint"
	"github.com/lattice-dev/lattice/internal/meta"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS dependents (
	identity   TEXT PRIMARY KEY,
	dependents TEXT NOT NULL
);
`

// SQLite persists artifacts in a single SQLite database with WAL
// journaling, so concurrent readers do not block the writer.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("storage: sqlite requires a path")
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Put(ctx context.Context, key fingerprint.Fingerprint, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key.Hex(), value)
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key fingerprint.Fingerprint) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM artifacts WHERE key = ?`, key.Hex()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", key.Short(), err)
	}
	return value, nil
}

func (s *SQLite) Delete(ctx context.Context, key fingerprint.Fingerprint) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE key = ?`, key.Hex()); err != nil {
		return fmt.Errorf("delete artifact %s: %w", key.Short(), err)
	}
	return nil
}

func (s *SQLite) PutDependents(ctx context.Context, id meta.Identity, dependents []meta.Identity) error {
	if len(dependents) == 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM dependents WHERE identity = ?`, string(id)); err != nil {
			return fmt.Errorf("clear dependents %s: %w", id, err)
		}
		return nil
	}
	blob, err := json.Marshal(dependents)
	if err != nil {
		return fmt.Errorf("encode dependents %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dependents (identity, dependents) VALUES (?, ?)
		 ON CONFLICT(identity) DO UPDATE SET dependents = excluded.dependents`,
		string(id), string(blob))
	if err != nil {
		return fmt.Errorf("put dependents %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) ScanDependents(ctx context.Context) (map[meta.Identity][]meta.Identity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity, dependents FROM dependents`)
	if err != nil {
		return nil, fmt.Errorf("scan dependents: %w", err)
	}
	defer rows.Close()

	out := make(map[meta.Identity][]meta.Identity)
	for rows.Next() {
		var id, blob string
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan dependents row: %w", err)
		}
		var deps []meta.Identity
		if err := json.Unmarshal([]byte(blob), &deps); err != nil {
			s.logger.Warn("skipping corrupt dependents row", "identity", id, "error", err)
			continue
		}
		out[meta.Identity(id)] = deps
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan dependents: %w", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
