// Package trajectory persists runs, steps, healing events, and drift
// alerts to SQLite so a failed or healed run can be audited after the
// fact. The healing/drift core itself never touches this package; the
// runner decides what is worth keeping.
package trajectory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/okralabs/uiheal/idgen"
)

// Store is the trajectory database handle.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
}

// Open opens (or creates) the trajectory SQLite database at path, applies
// production-safe pragmas (WAL, busy_timeout, foreign_keys) and the schema.
// Callers must import a driver registered as "sqlite" (modernc.org/sqlite).
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("trajectory: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trajectory: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("trajectory: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trajectory: apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trajectory: ping: %w", err)
	}

	return &Store{DB: db, newID: idgen.Default}, nil
}

// OpenMemory opens an in-memory store for testing. MaxOpenConns(1) keeps
// every query on the same in-memory database; cleanup is registered on t.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("trajectory.OpenMemory: %v", err)
	}
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
