// Package store persists the last parameter values of each design
// function in SQLite so an editing session can pick up where it left off.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caffeineduck/mechanic/function"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS param_values (
	function   TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (function, name)
);
`

// Store is a SQLite-backed value store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the persisted values for fn. A function with nothing
// saved yields an empty map.
func (s *Store) Load(ctx context.Context, fn string) (function.Values, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM param_values WHERE function = ?", fn)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", fn, err)
	}
	defer rows.Close()

	values := function.Values{}
	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", fn, err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", fn, name, err)
		}
		values[name] = v
	}
	return values, rows.Err()
}

// Save replaces the persisted values for fn. Reserved per-run keys
// (scale-to-fit box, random seed, preset selector) are never stored.
func (s *Store) Save(ctx context.Context, fn string, values function.Values) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM param_values WHERE function = ?", fn); err != nil {
		return fmt.Errorf("clear %s: %w", fn, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO param_values (function, name, value, updated_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for name, v := range values {
		if isReserved(name) {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", fn, name, err)
		}
		if _, err := stmt.ExecContext(ctx, fn, name, string(raw), now); err != nil {
			return fmt.Errorf("save %s.%s: %w", fn, name, err)
		}
	}
	return tx.Commit()
}

// Delete forgets everything saved for fn.
func (s *Store) Delete(ctx context.Context, fn string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM param_values WHERE function = ?", fn); err != nil {
		return fmt.Errorf("delete %s: %w", fn, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isReserved(name string) bool {
	switch name {
	case function.ScaleToFitKey, function.RandomSeedKey, function.PresetKey:
		return true
	}
	return false
}
