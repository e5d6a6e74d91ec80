package replay

import "encoding/json"

// Classification is a test's final status, per spec §4.9 step 4.
type Classification string

const (
	Pass           Classification = "Pass"
	Fail           Classification = "Fail"
	Flaky          Classification = "Flaky"
	Skipped        Classification = "Skipped"
	JudgeUncertain Classification = "JudgeUncertain"
)

// Attempt is one execution of a test within a Result, per spec §3's
// Run/Result/Attempt model ("each Result contains one or more Attempts
// for retry/flake").
type Attempt struct {
	Classification Classification  `json:"classification"`
	Response       json.RawMessage `json:"response,omitempty"`
	Score          *JudgeScore     `json:"score,omitempty"`
	PolicyMismatch []string        `json:"policy_mismatch,omitempty"` // tool_call_ids whose recorded verdict disagreed with re-evaluation
	ReasonCode     string          `json:"reason_code,omitempty"`
	FromCache      bool            `json:"from_cache"`
}

// Result is one test's outcome in a Run, per spec §3.
type Result struct {
	TestID         string         `json:"test_id"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	Classification Classification `json:"classification"`
	Attempts       []Attempt      `json:"attempts"`
}

// Run is the top-level replay output: one Run per suite execution, per
// spec §3. Timestamps excluded from the determinism contract (spec S5)
// are kept out of this struct entirely — StartedAt/FinishedAt belong to
// pkg/gate's run.json wrapper, not to the replay engine's pure output.
type Run struct {
	Seeds        Seeds
	Results      []Result // sorted by TestID, per spec §3 invariant
	JudgeMetrics *JudgeMetrics
}
