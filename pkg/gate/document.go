// Package gate implements the Gate Output Emitter (C10): the three public-
// contract surfaces a replay run produces — run.json, summary.json, and a
// stderr console footer — plus SARIF and JUnit renderings. No teacher
// equivalent exists (the teacher has no CI-gate concept); the JSON/XML
// encoding discipline follows the same "one helper formats every
// timestamp, schema_version never changes silently" rules pkg/storage and
// pkg/evidence already apply elsewhere in this module.
package gate

import (
	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/replay"
)

const (
	schemaVersion     = 1
	reasonCodeVersion = 1
	seedVersionValue  = 1
)

// RunDocument is the shared shape of run.json's fields, per spec §4.10.
// summary.json embeds this plus seeds/results/perf stats (see Summary).
type RunDocument struct {
	ExitCode          int              `json:"exit_code"`
	ReasonCode        string           `json:"reason_code,omitempty"`
	ReasonCodeVersion int              `json:"reason_code_version"`
	SeedVersion       int              `json:"seed_version"`
	OrderSeed         *string          `json:"order_seed"`
	JudgeSeed         *string          `json:"judge_seed"`
	JudgeMetrics      *replay.JudgeMetrics `json:"judge_metrics,omitempty"`
	SARIF             *SARIFSummary    `json:"sarif,omitempty"`
}

// SARIFSummary is the truncation note run.json/summary.json carry when the
// accompanying SARIF file was truncated, per spec §4.10: "both run.json
// and summary.json MUST carry sarif.omitted = <count>".
type SARIFSummary struct {
	Omitted int `json:"omitted"`
}

// Verdict carries the overall pass/fail determination derived from a
// replay.Run, independent of any particular output encoding.
type Verdict struct {
	ExitCode   int
	ReasonCode string
}

// classificationPriority orders replay.Classification values from most to
// least severe for overall exit-code/reason-code selection. Flaky has no
// registry code of its own (spec §7 does not name one): a flaky test is
// not a confident pass, so it is treated as a measurement failure — an
// Open Question decision, recorded in DESIGN.md.
var classificationPriority = map[replay.Classification]int{
	replay.Fail:           0,
	replay.Flaky:          1,
	replay.JudgeUncertain: 2,
	replay.Skipped:        3,
	replay.Pass:           4,
}

// DetermineVerdict implements spec §4.10/§7's "only the top-level gate
// emitter maps [structured error values] to process exit codes": scan
// results (already sorted by test_id per spec §3) for the single worst
// classification, and surface the reason code of its first attempt at that
// severity. All-Pass (and Pass/Skipped-only) runs exit 0 with no reason
// code.
func DetermineVerdict(run *replay.Run) Verdict {
	worstRank := classificationPriority[replay.Pass]
	var reasonCode string

	for _, result := range run.Results {
		rank, ok := classificationPriority[result.Classification]
		if !ok || rank >= worstRank {
			continue
		}
		worstRank = rank
		reasonCode = firstReasonCode(result)
	}

	switch {
	case worstRank == classificationPriority[replay.Pass], worstRank == classificationPriority[replay.Skipped]:
		return Verdict{ExitCode: 0}
	case reasonCode == "":
		// A Fail/Flaky/JudgeUncertain classification with no attempt-level
		// reason code recorded (e.g. a policy-only mismatch from C9's tool-
		// call re-evaluation): fall back to the classification's generic
		// registry code so run.json never emits an empty reason_code for a
		// non-zero exit.
		return Verdict{ExitCode: 1, ReasonCode: string(assayerr.ETestFailed)}
	default:
		return Verdict{ExitCode: assayerr.ExitCode(assayerr.Code(reasonCode)), ReasonCode: reasonCode}
	}
}

func firstReasonCode(result replay.Result) string {
	for _, a := range result.Attempts {
		if a.ReasonCode != "" {
			return a.ReasonCode
		}
	}
	return ""
}

// BuildRunDocument assembles run.json's contents for a completed run. When
// sarifOmitted is 0, the SARIF field is omitted entirely, per spec §4.10
// ("when no truncation occurs, the sarif key is absent in both").
func BuildRunDocument(run *replay.Run, sarifOmitted int) RunDocument {
	verdict := DetermineVerdict(run)
	doc := RunDocument{
		ExitCode:          verdict.ExitCode,
		ReasonCode:        verdict.ReasonCode,
		ReasonCodeVersion: reasonCodeVersion,
		SeedVersion:       seedVersionValue,
		OrderSeed:         stringPtr(run.Seeds.OrderSeedString()),
		JudgeMetrics:      run.JudgeMetrics,
	}
	if js, ok := run.Seeds.JudgeSeedString(); ok {
		doc.JudgeSeed = stringPtr(js)
	}
	if sarifOmitted > 0 {
		doc.SARIF = &SARIFSummary{Omitted: sarifOmitted}
	}
	return doc
}

func stringPtr(s string) *string { return &s }
