package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// Embedding is a dense vector, grounded on the teacher's
// pkg/store/embeddings.go Embedding/Embedder shape. Here it backs semantic
// similarity scoring for replay's judge (pkg/storage.EmbeddingJudge)
// instead of RAG memory search, so only the embed+compare surface is kept.
type Embedding []float32

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint, grounded directly on
// the teacher's OpenAIEmbedder.
type OpenAIEmbedder struct {
	apiKey string
	model  string
	client *http.Client
}

func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		apiKey: apiKey,
		model:  "text-embedding-3-small",
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Embedding, error) {
	if e.apiKey == "" {
		return nil, errors.New("storage: missing openai api key")
	}

	body, err := json.Marshal(map[string]interface{}{"input": text, "model": e.model})
	if err != nil {
		return nil, fmt.Errorf("storage: marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("storage: build embed request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: embed request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: openai embeddings api error: %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("storage: decode embed response: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, errors.New("storage: no embedding returned")
	}
	return result.Data[0].Embedding, nil
}

// MemoryEmbedder returns a fixed-size zero vector, grounded on the
// teacher's MemoryEmbedder stand-in for tests that need an Embedder
// without a network call.
type MemoryEmbedder struct{ Dims int }

func (m MemoryEmbedder) Embed(context.Context, string) (Embedding, error) {
	dims := m.Dims
	if dims == 0 {
		dims = 8
	}
	return make(Embedding, dims), nil
}

// CosineSimilarity is computed in Go rather than via pgvector's `<=>`
// operator: SPEC_FULL's domain stack keeps C11 SQLite-only (no Postgres
// role for an embedded store), and cosine similarity over a float32 slice
// is arithmetic, not an ambient concern that warrants a vector-search
// library for two short vectors at a time.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// embeddingHash content-addresses an embedding row by its source text, so
// the same baseline/response string embedded twice reuses the stored
// vector instead of paying for another API call.
func embeddingHash(text string) (string, error) {
	return canonicalize.CanonicalHash(text)
}

// LookupEmbedding returns a previously stored vector for text, if present.
func (s *Store) LookupEmbedding(text string) (Embedding, bool, error) {
	hash, err := embeddingHash(text)
	if err != nil {
		return nil, false, fmt.Errorf("storage: hash embedding text: %w", err)
	}
	var vectorJSON string
	err = s.db.QueryRow(`SELECT vector FROM embeddings WHERE content_hash = ?`, hash).Scan(&vectorJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: lookup embedding: %w", err)
	}
	var vec Embedding
	if err := json.Unmarshal([]byte(vectorJSON), &vec); err != nil {
		return nil, false, nil // corrupt row: treat as a miss
	}
	return vec, true, nil
}

// StoreEmbedding persists a vector for text, keyed by content hash.
func (s *Store) StoreEmbedding(text string, vec Embedding, now time.Time) error {
	hash, err := embeddingHash(text)
	if err != nil {
		return fmt.Errorf("storage: hash embedding text: %w", err)
	}
	vectorJSON, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("storage: marshal embedding vector: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO embeddings (content_hash, text, vector, dims, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO NOTHING`,
		hash, text, string(vectorJSON), len(vec), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("storage: store embedding: %w", err)
	}
	return nil
}
