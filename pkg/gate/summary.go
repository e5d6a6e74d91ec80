package gate

import (
	"sort"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// Seeds is summary.json's seeds object, distinct from run.json's flat
// order_seed/judge_seed fields per spec §4.10 ("the full run document
// containing the run.json fields plus schema_version, seeds object,
// results array... and performance stats").
type Seeds struct {
	SeedVersion int     `json:"seed_version"`
	OrderSeed   *string `json:"order_seed"`
	JudgeSeed   *string `json:"judge_seed,omitempty"`
}

// Stats are the deterministic performance/outcome counters summary.json
// carries. Wall-clock duration is intentionally absent: spec §5
// invariant S5 requires byte-identical summary.json across repeated runs
// of the same trace "modulo time fields which are excluded from
// determinism", and the simplest way to honor that is to never write a
// non-deterministic field in the first place rather than exclude it from
// a later comparison.
type Stats struct {
	TotalTests     int `json:"total_tests"`
	TotalAttempts  int `json:"total_attempts"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Flaky          int `json:"flaky"`
	Skipped        int `json:"skipped"`
	JudgeUncertain int `json:"judge_uncertain"`
}

// Summary is the full run document spec §4.10 names: run.json's fields,
// plus schema_version, a seeds object, the sorted results array, and
// Stats.
type Summary struct {
	RunDocument
	SchemaVersion int             `json:"schema_version"`
	Seeds         Seeds           `json:"seeds"`
	Results       []replay.Result `json:"results"`
	Stats         Stats           `json:"stats"`
}

// BuildSummary assembles summary.json's contents. sarifOmitted mirrors
// BuildRunDocument's parameter: 0 means no SARIF truncation occurred.
func BuildSummary(run *replay.Run, sarifOmitted int) Summary {
	doc := BuildRunDocument(run, sarifOmitted)

	results := make([]replay.Result, len(run.Results))
	copy(results, run.Results)
	sort.Slice(results, func(i, j int) bool { return results[i].TestID < results[j].TestID })

	return Summary{
		RunDocument:   doc,
		SchemaVersion: schemaVersion,
		Seeds: Seeds{
			SeedVersion: seedVersionValue,
			OrderSeed:   doc.OrderSeed,
			JudgeSeed:   doc.JudgeSeed,
		},
		Results: results,
		Stats:   computeStats(results),
	}
}

func computeStats(results []replay.Result) Stats {
	stats := Stats{TotalTests: len(results)}
	for _, r := range results {
		stats.TotalAttempts += len(r.Attempts)
		switch r.Classification {
		case replay.Pass:
			stats.Passed++
		case replay.Fail:
			stats.Failed++
		case replay.Flaky:
			stats.Flaky++
		case replay.Skipped:
			stats.Skipped++
		case replay.JudgeUncertain:
			stats.JudgeUncertain++
		}
	}
	return stats
}
