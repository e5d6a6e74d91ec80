package mandate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/canonicalize"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed mandate and mandate-use table, grounded on the
// teacher's pkg/store/receipt_store_sqlite.go (database/sql over
// modernc.org/sqlite, one migrate() per store, RFC3339Nano timestamp
// strings rather than driver-native time values).
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open *sql.DB (spec §4.11: the mandate tables
// live in the same embedded database as runs/results/attempts) and applies
// the mandate-related schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mandates (
			mandate_id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			scope TEXT NOT NULL,
			operation_class TEXT NOT NULL,
			not_before TEXT NOT NULL,
			not_after TEXT NOT NULL,
			transaction_ref TEXT NOT NULL DEFAULT '',
			first_seen_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mandate_uses (
			use_id TEXT PRIMARY KEY,
			mandate_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			consumed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mandate_revocations (
			mandate_id TEXT PRIMARY KEY,
			revoked_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("mandate: migrate: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// UpsertMandate records the mandate's metadata on first sight, per spec
// §4.7 step 7's "upsert mandate metadata (on first sight)". Idempotent:
// later sightings of the same mandate_id are no-ops.
func (s *Store) UpsertMandate(m Mandate, now time.Time) error {
	scopeJSON, err := json.Marshal(m.Scope)
	if err != nil {
		return fmt.Errorf("mandate: marshal scope: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO mandates (mandate_id, subject, scope, operation_class, not_before, not_after, transaction_ref, first_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mandate_id) DO NOTHING`,
		m.MandateID, m.Subject, string(scopeJSON), string(m.OperationClass),
		formatTime(m.NotBefore), formatTime(m.NotAfter), m.TransactionRef, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("mandate: upsert: %w", err)
	}
	return nil
}

// IsRevoked checks the revocations table with no clock skew, per spec §5:
// "a mandate revoked at time T cannot be consumed at any time >= T
// regardless of clock skew."
func (s *Store) IsRevoked(mandateID string, now time.Time) (bool, error) {
	var revokedAt string
	err := s.db.QueryRow(`SELECT revoked_at FROM mandate_revocations WHERE mandate_id = ?`, mandateID).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mandate: revocation lookup: %w", err)
	}
	t, perr := time.Parse(time.RFC3339Nano, revokedAt)
	if perr != nil {
		return true, nil // an unparseable revocation record still means "treat as revoked"
	}
	return !now.Before(t), nil
}

// Revoke inserts (or updates) a revocation record, effective immediately.
func (s *Store) Revoke(mandateID string, revokedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO mandate_revocations (mandate_id, revoked_at) VALUES (?, ?)
		 ON CONFLICT(mandate_id) DO UPDATE SET revoked_at = excluded.revoked_at`,
		mandateID, formatTime(revokedAt),
	)
	return err
}

// Consume implements spec §4.7 step 7's atomic consume: compute use_id,
// insert into mandate_uses, and treat a primary-key collision as an
// idempotent retry rather than an error. The transaction is opened with
// database/sql's default BeginTx, which SQLite runs as a deferred BEGIN,
// not BEGIN IMMEDIATE: the write lock is taken at the first write rather
// than when the transaction starts.
func (s *Store) Consume(mandateID, toolCallID string, arguments interface{}, now time.Time) (*AuthzReceipt, error) {
	useID, err := canonicalize.CanonicalHash(useIDInput{
		MandateID:  mandateID,
		ToolCallID: toolCallID,
		Arguments:  arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("mandate: compute use_id: %w", err)
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, fmt.Errorf("mandate: begin consume transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	revoked, err := txIsRevoked(tx, mandateID, now)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, assayerr.New(assayerr.MRevoked, "mandate revoked during consume")
	}

	var existingConsumedAt string
	err = tx.QueryRow(`SELECT consumed_at FROM mandate_uses WHERE use_id = ?`, useID).Scan(&existingConsumedAt)
	switch {
	case err == sql.ErrNoRows:
		if _, ierr := tx.Exec(
			`INSERT INTO mandate_uses (use_id, mandate_id, tool_call_id, consumed_at) VALUES (?, ?, ?, ?)`,
			useID, mandateID, toolCallID, formatTime(now),
		); ierr != nil {
			return nil, fmt.Errorf("mandate: insert use: %w", ierr)
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, fmt.Errorf("mandate: commit consume: %w", cerr)
		}
		return &AuthzReceipt{UseID: useID, WasNew: true, MandateID: mandateID, ConsumedAt: now}, nil
	case err != nil:
		return nil, fmt.Errorf("mandate: use lookup: %w", err)
	default:
		if cerr := tx.Commit(); cerr != nil {
			return nil, fmt.Errorf("mandate: commit idempotent consume: %w", cerr)
		}
		consumedAt, perr := time.Parse(time.RFC3339Nano, existingConsumedAt)
		if perr != nil {
			consumedAt = now
		}
		return &AuthzReceipt{UseID: useID, WasNew: false, MandateID: mandateID, ConsumedAt: consumedAt}, nil
	}
}

func txIsRevoked(tx *sql.Tx, mandateID string, now time.Time) (bool, error) {
	var revokedAt string
	err := tx.QueryRow(`SELECT revoked_at FROM mandate_revocations WHERE mandate_id = ?`, mandateID).Scan(&revokedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mandate: revocation lookup in tx: %w", err)
	}
	t, perr := time.Parse(time.RFC3339Nano, revokedAt)
	if perr != nil {
		return true, nil
	}
	return !now.Before(t), nil
}
