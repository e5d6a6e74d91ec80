package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// RunRecord is a persisted replay.Run plus the gate-level fields (C10)
// recorded alongside it: exit code and top-level reason code.
type RunRecord struct {
	ID         int64
	RunID      string
	ExitCode   int
	ReasonCode string
	Run        *replay.Run
	CreatedAt  time.Time
}

// SaveRun persists a completed replay run: the run row, one result row per
// test, and one attempt row per attempt, all inside a single transaction
// per spec §4.11 ("all writes that cross tables run in a single
// transaction"). runID is caller-supplied (cmd/assay mints one per
// invocation) so a run can be looked up by name as well as by the
// monotonic id spec §4.11 requires for "latest run" selection.
func (s *Store) SaveRun(runID string, run *replay.Run, exitCode int, reasonCode string, now time.Time) error {
	orderSeed := sql.NullString{String: run.Seeds.OrderSeedString(), Valid: true}
	var judgeSeed sql.NullString
	if js, ok := run.Seeds.JudgeSeedString(); ok {
		judgeSeed = sql.NullString{String: js, Valid: true}
	}

	var metricsJSON []byte
	if run.JudgeMetrics != nil {
		b, err := json.Marshal(run.JudgeMetrics)
		if err != nil {
			return fmt.Errorf("storage: marshal judge metrics: %w", err)
		}
		metricsJSON = b
	}

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO runs (run_id, seed_version, order_seed, judge_seed, exit_code, reason_code, judge_metrics, created_at)
			 VALUES (?, 1, ?, ?, ?, ?, ?, ?)`,
			runID, orderSeed, judgeSeed, exitCode, nullIfEmpty(reasonCode), nullIfEmptyBytes(metricsJSON), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("storage: insert run: %w", err)
		}

		for _, result := range run.Results {
			res, err := tx.Exec(
				`INSERT INTO results (run_id, test_id, fingerprint, classification, created_at) VALUES (?, ?, ?, ?, ?)`,
				runID, result.TestID, nullIfEmpty(result.Fingerprint), string(result.Classification), formatTime(now),
			)
			if err != nil {
				return fmt.Errorf("storage: insert result %s: %w", result.TestID, err)
			}
			resultID, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("storage: result id: %w", err)
			}

			for i, attempt := range result.Attempts {
				respJSON := attempt.Response
				if respJSON == nil {
					respJSON = json.RawMessage("null")
				}
				fromCache := 0
				if attempt.FromCache {
					fromCache = 1
				}
				if _, err := tx.Exec(
					`INSERT INTO attempts (result_id, attempt_index, classification, reason_code, from_cache, response, created_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`,
					resultID, i, string(attempt.Classification), nullIfEmpty(attempt.ReasonCode), fromCache, string(respJSON), formatTime(now),
				); err != nil {
					return fmt.Errorf("storage: insert attempt %d for %s: %w", i, result.TestID, err)
				}
			}
		}
		return nil
	})
}

// LatestRun returns the most recently inserted run, selected by monotonic
// integer id per spec §4.11 ("latest run is selected by monotonic integer
// id, never by timestamp string"). Returns (nil, nil) when no run exists.
func (s *Store) LatestRun() (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT id, run_id, exit_code, reason_code, created_at FROM runs ORDER BY id DESC LIMIT 1`)
	return scanRunRow(row)
}

func scanRunRow(row *sql.Row) (*RunRecord, error) {
	var (
		id         int64
		runID      string
		exitCode   sql.NullInt64
		reasonCode sql.NullString
		createdAt  string
	)
	if err := row.Scan(&id, &runID, &exitCode, &reasonCode, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: scan run row: %w", err)
	}
	return &RunRecord{
		ID:         id,
		RunID:      runID,
		ExitCode:   int(exitCode.Int64),
		ReasonCode: reasonCode.String,
		CreatedAt:  parseTime(createdAt),
	}, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIfEmptyBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
