// Package storage implements the embedded relational store (C11): the
// shared SQLite database used by the mandate authorizer (C7), the replay
// runner (C9), and the gate output emitter (C10). Grounded on the teacher's
// pkg/store/receipt_store_sqlite.go (database/sql over modernc.org/sqlite,
// one migrate() per store, RFC3339 timestamp strings) and on
// pkg/mandate/store.go, which already owns the mandates/mandate_uses/
// mandate_revocations tables against this same database handle.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mindburn-labs/assay/pkg/mandate"

	_ "modernc.org/sqlite"
)

// Store owns the shared *sql.DB and the runs/results/attempts/embeddings/
// judge_cache/nonces tables. The mandate tables live in the same database
// but are migrated and queried through mandate.Store, constructed against
// the same handle in Open/New rather than duplicated here.
type Store struct {
	db       *sql.DB
	Mandates *mandate.Store
}

// Open opens (creating if absent) a SQLite database file at path and
// applies every schema migration owned by this package and by
// pkg/mandate, per spec §4.11: "embedded relational store used by C7, C9,
// and C10."
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, serialize via Go, not SQLITE_BUSY retries
	return New(db)
}

// New wraps an already-open *sql.DB, migrating both this package's tables
// and pkg/mandate's. Used directly by tests against an in-memory database.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	mstore, err := mandate.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("storage: mandate schema: %w", err)
	}
	s.Mandates = mstore
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the shared handle for callers (e.g. cmd/assay wiring) that
// need to pass it to another component constructed against the same
// database, mirroring how mandate.NewStore(db) is called here.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			seed_version INTEGER NOT NULL DEFAULT 1,
			order_seed TEXT,
			judge_seed TEXT,
			exit_code INTEGER,
			reason_code TEXT,
			judge_metrics JSON,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			test_id TEXT NOT NULL,
			fingerprint TEXT,
			classification TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			result_id INTEGER NOT NULL REFERENCES results(id),
			attempt_index INTEGER NOT NULL,
			classification TEXT NOT NULL,
			reason_code TEXT,
			from_cache INTEGER NOT NULL DEFAULT 0,
			response JSON,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS judge_cache (
			fingerprint TEXT PRIMARY KEY,
			response JSON NOT NULL,
			scores JSON,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			content_hash TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			vector JSON NOT NULL,
			dims INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nonces (
			tool_call_id TEXT PRIMARY KEY,
			decision JSON NOT NULL,
			authz JSON,
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}
	return addMissingColumns(s.db, map[string][]column{
		"runs":    {{"reason_code", "TEXT"}, {"judge_metrics", "JSON"}},
		"results": {{"fingerprint", "TEXT"}},
		"attempts": {{"from_cache", "INTEGER NOT NULL DEFAULT 0"}},
	})
}

// withTx runs fn inside a single transaction and commits on success, per
// spec §4.11: "all writes that cross tables run in a single transaction."
func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
