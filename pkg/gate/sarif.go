package gate

import (
	"fmt"

	"github.com/mindburn-labs/assay/pkg/replay"
)

const defaultSARIFCap = 25000

// SARIFLog is a minimal SARIF 2.1.0 document: one run, one result per
// test. No third-party SARIF library exists anywhere in the retrieval
// pack (confirmed by search); SARIF is a fixed JSON schema with no
// generation logic beyond field mapping, so this is written directly
// against encoding/json rather than justified as a stdlib exception for
// an ambient concern — there is no ambient concern here to delegate.
type SARIFLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SARIFRun `json:"runs"`
}

type SARIFRun struct {
	Tool       SARIFTool      `json:"tool"`
	Results    []SARIFResult  `json:"results"`
	Properties *SARIFRunProps `json:"properties,omitempty"`
}

type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

type SARIFDriver struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type SARIFRunProps struct {
	Assay SARIFAssayProps `json:"assay"`
}

type SARIFAssayProps struct {
	Truncated    bool `json:"truncated"`
	OmittedCount int  `json:"omitted_count"`
}

type SARIFResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   SARIFMessage    `json:"message"`
	Locations []SARIFLocation `json:"locations,omitempty"`
}

type SARIFMessage struct {
	Text string `json:"text"`
}

type SARIFLocation struct {
	LogicalLocations []SARIFLogicalLocation `json:"logicalLocations"`
}

type SARIFLogicalLocation struct {
	FullyQualifiedName string `json:"fullyQualifiedName"`
}

// sarifLevel maps a Classification to a SARIF result level.
func sarifLevel(c replay.Classification) string {
	switch c {
	case replay.Fail:
		return "error"
	case replay.Flaky, replay.JudgeUncertain:
		return "warning"
	case replay.Skipped:
		return "note"
	default:
		return "none"
	}
}

// BuildSARIF renders run's results as a SARIF 2.1.0 log. When the result
// count exceeds cap (0 meaning "use the default of 25000"), the results
// array is truncated deterministically — results arrive already sorted by
// test_id (spec §3 invariant), the same sort key summary.json uses — and
// the run's properties.assay block records truncated=true and the omitted
// count, per spec §4.10. The second return value is the omitted count (0
// when no truncation occurred), which the caller threads into run.json
// and summary.json's sarif.omitted field.
func BuildSARIF(run *replay.Run, cap int) (SARIFLog, int) {
	if cap <= 0 {
		cap = defaultSARIFCap
	}

	results := make([]SARIFResult, 0, len(run.Results))
	for _, r := range run.Results {
		results = append(results, SARIFResult{
			RuleID: string(r.Classification),
			Level:  sarifLevel(r.Classification),
			Message: SARIFMessage{
				Text: sarifMessage(r),
			},
			Locations: []SARIFLocation{{
				LogicalLocations: []SARIFLogicalLocation{{FullyQualifiedName: r.TestID}},
			}},
		})
	}

	omitted := 0
	var runProps *SARIFRunProps
	if len(results) > cap {
		omitted = len(results) - cap
		results = results[:cap]
		runProps = &SARIFRunProps{Assay: SARIFAssayProps{Truncated: true, OmittedCount: omitted}}
	}

	return SARIFLog{
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Version: "2.1.0",
		Runs: []SARIFRun{{
			Tool:       SARIFTool{Driver: SARIFDriver{Name: "assay", Version: "1"}},
			Results:    results,
			Properties: runProps,
		}},
	}, omitted
}

func sarifMessage(r replay.Result) string {
	reason := firstReasonCode(r)
	if reason == "" {
		return fmt.Sprintf("%s: %s", r.TestID, r.Classification)
	}
	return fmt.Sprintf("%s: %s (%s)", r.TestID, r.Classification, reason)
}
