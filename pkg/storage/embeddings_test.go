package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreAndLookupEmbedding(t *testing.T) {
	s := openMemStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, ok, err := s.LookupEmbedding("hello world")
	require.NoError(t, err)
	require.False(t, ok)

	vec := Embedding{1, 2, 3}
	require.NoError(t, s.StoreEmbedding("hello world", vec, now))

	got, ok, err := s.LookupEmbedding("hello world")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vec, got)
}

func TestStoreEmbedding_IsIdempotentByContent(t *testing.T) {
	s := openMemStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.StoreEmbedding("x", Embedding{1}, now))
	require.NoError(t, s.StoreEmbedding("x", Embedding{2}, now)) // same content hash: no-op

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity(Embedding{1, 0}, Embedding{1, 0}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity(Embedding{1, 0}, Embedding{0, 1}), 1e-9)
	require.Equal(t, float64(0), CosineSimilarity(Embedding{}, Embedding{}))
	require.Equal(t, float64(0), CosineSimilarity(Embedding{1}, Embedding{1, 2}))
}

func TestEmbeddingJudge_AbstainsWithoutBaseline(t *testing.T) {
	j := &EmbeddingJudge{Embedder: MemoryEmbedder{}, Store: nil}
	score, err := j.Score(nil, []byte(`{"text":"a"}`), nil, 0)
	require.NoError(t, err)
	require.True(t, score.Abstained)
}

func TestEmbeddingJudge_PassesOnIdenticalText(t *testing.T) {
	s := openMemStore(t)
	j := &EmbeddingJudge{Embedder: fixedEmbedder{vec: Embedding{1, 2, 3}}, Store: s}

	score, err := j.Score(nil, []byte(`{"text":"same"}`), []byte(`{"text":"same"}`), 0)
	require.NoError(t, err)
	require.True(t, score.Pass)
	require.InDelta(t, 1.0, score.Margin, 1e-9)
}

type fixedEmbedder struct{ vec Embedding }

func (f fixedEmbedder) Embed(context.Context, string) (Embedding, error) {
	return f.vec, nil
}
