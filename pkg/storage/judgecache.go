package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// ArtifactCache is a durable, process-shared alternative to
// replay.FileCache: the judge_cache table, keyed by fingerprint, so
// concurrent CI runners sharing the same database see each other's
// computed artifacts without going through Redis. Satisfies
// replay.ArtifactCache.
type ArtifactCache struct {
	store *Store
	now   func() time.Time
}

// NewArtifactCache wraps a Store's judge_cache table as a replay.ArtifactCache.
func (s *Store) NewArtifactCache() *ArtifactCache {
	return &ArtifactCache{store: s, now: time.Now}
}

func (c *ArtifactCache) Lookup(fingerprint string) (*replay.Artifact, bool, error) {
	var responseJSON, scoresJSON sql.NullString
	err := c.store.db.QueryRow(
		`SELECT response, scores FROM judge_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&responseJSON, &scoresJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: judge cache lookup: %w", err)
	}

	artifact := replay.Artifact{Response: json.RawMessage(responseJSON.String)}
	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &artifact.Scores); err != nil {
			return nil, false, nil // corrupt row: treat as a miss, don't fail the run
		}
	}
	return &artifact, true, nil
}

func (c *ArtifactCache) Store(fingerprint string, artifact replay.Artifact) error {
	scoresJSON, err := json.Marshal(artifact.Scores)
	if err != nil {
		return fmt.Errorf("storage: marshal judge scores: %w", err)
	}
	_, err = c.store.db.Exec(
		`INSERT INTO judge_cache (fingerprint, response, scores, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET response = excluded.response, scores = excluded.scores`,
		fingerprint, string(artifact.Response), string(scoresJSON), formatTime(c.now()),
	)
	if err != nil {
		return fmt.Errorf("storage: store judge cache entry: %w", err)
	}
	return nil
}
