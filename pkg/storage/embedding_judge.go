package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// EmbeddingJudge scores a replay attempt by semantic similarity between the
// response and a recorded baseline, via Embedder + the embeddings table as
// a content-addressed cache. Satisfies replay.Judge. Abstains when no
// baseline is present: similarity against nothing is not a verdict.
type EmbeddingJudge struct {
	Embedder  Embedder
	Store     *Store
	Threshold float64 // cosine similarity at/above which a response passes; 0 means use defaultSimilarityThreshold
	Now       func() time.Time
}

const defaultSimilarityThreshold = 0.8

func (j *EmbeddingJudge) threshold() float64 {
	if j.Threshold > 0 {
		return j.Threshold
	}
	return defaultSimilarityThreshold
}

func (j *EmbeddingJudge) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Score implements replay.Judge. judgeSeed is unused: embedding similarity
// is deterministic given the same text and model, with no internal random
// choice to seed.
func (j *EmbeddingJudge) Score(_ interface{}, response, baseline json.RawMessage, _ uint64) (replay.JudgeScore, error) {
	if len(baseline) == 0 {
		return replay.JudgeScore{Abstained: true}, nil
	}

	responseText, err := extractText(response)
	if err != nil {
		return replay.JudgeScore{}, fmt.Errorf("storage: judge response text: %w", err)
	}
	baselineText, err := extractText(baseline)
	if err != nil {
		return replay.JudgeScore{}, fmt.Errorf("storage: judge baseline text: %w", err)
	}

	responseVec, err := j.embed(responseText)
	if err != nil {
		return replay.JudgeScore{}, err
	}
	baselineVec, err := j.embed(baselineText)
	if err != nil {
		return replay.JudgeScore{}, err
	}

	similarity := CosineSimilarity(responseVec, baselineVec)
	return replay.JudgeScore{
		Pass:   similarity >= j.threshold(),
		Margin: similarity,
	}, nil
}

func (j *EmbeddingJudge) embed(text string) (Embedding, error) {
	if j.Store != nil {
		if vec, ok, err := j.Store.LookupEmbedding(text); err == nil && ok {
			return vec, nil
		}
	}
	vec, err := j.Embedder.Embed(context.Background(), text)
	if err != nil {
		return nil, fmt.Errorf("storage: embed text: %w", err)
	}
	if j.Store != nil {
		if serr := j.Store.StoreEmbedding(text, vec, j.now()); serr != nil {
			return nil, fmt.Errorf("storage: cache embedding: %w", serr)
		}
	}
	return vec, nil
}

// extractText pulls comparable text out of a model response payload: a
// {"text": "..."} object if present, otherwise the raw JSON bytes so
// unstructured payloads still compare as text.
func extractText(raw json.RawMessage) (string, error) {
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Text != "" {
		return obj.Text, nil
	}
	return string(raw), nil
}
