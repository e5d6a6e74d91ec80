package replay

import "encoding/json"

// JudgeScore is the per-test outcome of scoring one response, before
// aggregation into run-level JudgeMetrics. Kept separate from the
// aggregate metrics so per-test values stay in results.json but are never
// fed into the metrics surface (spec §4.9: "per-test labels MUST NOT be
// emitted into metrics").
type JudgeScore struct {
	Pass      bool    `json:"pass"`
	Abstained bool    `json:"abstained"` // judge declined to render a verdict
	Flipped   bool    `json:"flipped"`   // verdict disagrees with the supplied baseline
	Margin    float64 `json:"margin"`    // judge's confidence margin, [0,1]
}

// JudgeMetrics aggregates JudgeScore across an entire run. Low-cardinality
// by construction: four floats, no per-test dimension.
type JudgeMetrics struct {
	AbstainRate   float64 `json:"abstain_rate"`
	FlipRate      float64 `json:"flip_rate"`
	ConsensusRate float64 `json:"consensus_rate"`
	Margin        float64 `json:"margin"`
}

// Judge scores a response against its request (and, when present, a
// baseline response from a prior run, for flip-rate tracking). judgeSeed
// drives any internal random choices the judge makes (e.g. breaking ties
// between equally-weighted rubric criteria) so scoring is reproducible.
type Judge interface {
	Score(request interface{}, response json.RawMessage, baseline json.RawMessage, judgeSeed uint64) (JudgeScore, error)
}

// NopJudge always passes with full confidence and no abstention — used
// for trace tests that only exercise tool-call/policy re-evaluation (spec
// §4.9 step 3) and carry no model request to judge.
type NopJudge struct{}

func (NopJudge) Score(interface{}, json.RawMessage, json.RawMessage, uint64) (JudgeScore, error) {
	return JudgeScore{Pass: true, Margin: 1}, nil
}

// AggregateMetrics folds per-test JudgeScores into run-level JudgeMetrics.
// Returns ok=false when no test carried a judge score (e.g. a pure
// tool-call trace), matching run.json's "judge_metrics is absent when no
// judge ran" contract.
func AggregateMetrics(scores []JudgeScore) (JudgeMetrics, bool) {
	if len(scores) == 0 {
		return JudgeMetrics{}, false
	}
	var abstained, flipped, consensus int
	var marginSum float64
	for _, s := range scores {
		if s.Abstained {
			abstained++
		}
		if s.Flipped {
			flipped++
		}
		if !s.Abstained && !s.Flipped {
			consensus++
		}
		marginSum += s.Margin
	}
	n := float64(len(scores))
	return JudgeMetrics{
		AbstainRate:   float64(abstained) / n,
		FlipRate:      float64(flipped) / n,
		ConsensusRate: float64(consensus) / n,
		Margin:        marginSum / n,
	}, true
}
