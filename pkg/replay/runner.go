// Package replay implements the Replay Runner (C9): deterministic
// re-evaluation of recorded traces against a compiled policy, judge
// scoring through a fingerprint cache, and classification into Pass/Fail/
// Flaky/Skipped/JudgeUncertain. Grounded on the teacher's (deleted)
// pkg/pdp for the "pure decision over recorded input" shape, composed with
// pkg/decision (C6) for the actual policy re-evaluation and
// pkg/canonicalize for fingerprinting.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/decision"
	"github.com/mindburn-labs/assay/pkg/policy"
)

// Mode mirrors spec §6's replay-mode env var: replay_strict, replay,
// record, auto, off.
type Mode string

const (
	ModeStrict Mode = "replay_strict"
	ModeReplay Mode = "replay"
	ModeRecord Mode = "record"
	ModeAuto   Mode = "auto"
	ModeOff    Mode = "off"
)

// Config wires a Runner's dependencies.
type Config struct {
	Policy    *policy.CompiledPolicy
	Cache     ArtifactCache // nil skips cache lookups and stores; used the same way in every Mode
	Model     ModelClient   // nil is fine in ModeStrict: no call is ever attempted
	Judge     Judge         // defaults to NopJudge
	Mode      Mode
	OrderSeed uint64
	JudgeSeed uint64
	Retries   int // attempts per test beyond the first, for flake detection; 0 = single attempt
	Logger    *slog.Logger
}

// Runner executes spec §4.9's replay algorithm over a set of TestCases.
type Runner struct {
	cfg Config
	log *slog.Logger
}

func NewRunner(cfg Config) *Runner {
	if cfg.Judge == nil {
		cfg.Judge = NopJudge{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{cfg: cfg, log: cfg.Logger.With("component", "replay")}
}

// Run executes every test case and returns the aggregated Run, sorted by
// TestID. ctx governs any real model invocations; it has no effect in
// strict mode, where no network call is ever attempted.
func (r *Runner) Run(ctx context.Context, cases []TestCase) (*Run, error) {
	ordered := r.order(cases)

	results := make([]Result, 0, len(ordered))
	var allScores []JudgeScore

	for _, tc := range ordered {
		res, scores, err := r.runOne(ctx, tc)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
		allScores = append(allScores, scores...)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].TestID < results[j].TestID })

	run := &Run{
		Seeds: Seeds{
			OrderSeed: r.cfg.OrderSeed,
			JudgeSeed: r.cfg.JudgeSeed,
			HasJudge:  len(allScores) > 0,
		},
		Results: results,
	}
	if metrics, ok := AggregateMetrics(allScores); ok {
		run.JudgeMetrics = &metrics
	}
	return run, nil
}

// order applies the order_seed-driven deterministic shuffle described in
// spec §4.9 ("order_seed drives test ordering"). The final Results slice
// is re-sorted by TestID regardless (spec §3 invariant), so this only
// affects the sequence tests actually execute in — relevant when tests
// share mutable external state, not to the reported order.
func (r *Runner) order(cases []TestCase) []TestCase {
	perm := deterministicShuffle(len(cases), r.cfg.OrderSeed)
	ordered := make([]TestCase, len(cases))
	for i, idx := range perm {
		ordered[i] = cases[idx]
	}
	return ordered
}

func (r *Runner) runOne(ctx context.Context, tc TestCase) (Result, []JudgeScore, error) {
	attempts := 1 + r.cfg.Retries
	var (
		results []Attempt
		scores  []JudgeScore
		fp      string
	)

	for attemptN := 0; attemptN < attempts; attemptN++ {
		a, score, fingerprint, err := r.attempt(ctx, tc)
		if err != nil {
			return Result{}, nil, err
		}
		if fingerprint != "" {
			fp = fingerprint
		}
		results = append(results, a)
		if score != nil {
			scores = append(scores, *score)
		}
		// A hard Skipped (e.g. no request to judge and no tool calls to
		// re-evaluate) never benefits from a retry.
		if a.Classification == Skipped {
			break
		}
	}

	return Result{
		TestID:         tc.TestID,
		Fingerprint:    fp,
		Classification: classify(results),
		Attempts:       results,
	}, scores, nil
}

// attempt runs one execution of a test: fingerprint+cache lookup, judge
// scoring on miss, and policy re-evaluation of every recorded tool call
// (spec §4.9 steps 1-3).
func (r *Runner) attempt(ctx context.Context, tc TestCase) (Attempt, *JudgeScore, string, error) {
	policyMismatches, policyReason, policyErr := r.reevaluateToolCalls(tc)
	if policyErr != nil {
		return Attempt{}, nil, "", policyErr
	}

	request, hasRequest := tc.RequestFor()
	if !hasRequest {
		if len(policyMismatches) > 0 {
			return Attempt{
				Classification: Fail,
				PolicyMismatch: policyMismatches,
				ReasonCode:     policyReason,
			}, nil, "", nil
		}
		if len(tc.ToolCalls()) > 0 {
			return Attempt{Classification: Pass}, nil, "", nil
		}
		return Attempt{Classification: Skipped}, nil, "", nil
	}

	fingerprint, err := Fingerprint(request)
	if err != nil {
		return Attempt{}, nil, "", fmt.Errorf("replay: fingerprint test %s: %w", tc.TestID, err)
	}

	artifact, fromCache, cacheErr := r.lookupOrInvoke(ctx, tc, request, fingerprint)
	if cacheErr != nil {
		if ae, ok := cacheErr.(*assayerr.Error); ok && ae.Code == assayerr.EReplayMissingDependency {
			return Attempt{
				Classification: Fail,
				ReasonCode:     string(assayerr.EReplayMissingDependency),
				FromCache:      false,
			}, nil, fingerprint, nil
		}
		return Attempt{}, nil, "", cacheErr
	}

	var baseline json.RawMessage
	for _, rec := range tc.Records {
		if len(rec.Baseline) > 0 {
			baseline = rec.Baseline
			break
		}
	}

	score, err := r.cfg.Judge.Score(request, artifact.Response, baseline, r.cfg.JudgeSeed)
	if err != nil {
		return Attempt{}, nil, "", fmt.Errorf("replay: judge test %s: %w", tc.TestID, err)
	}

	classification := Pass
	reason := ""
	switch {
	case len(policyMismatches) > 0:
		classification = Fail
		reason = policyReason
	case score.Abstained:
		classification = JudgeUncertain
		reason = string(assayerr.EJudgeUncertain)
	case !score.Pass:
		classification = Fail
		reason = string(assayerr.ETestFailed)
	}

	return Attempt{
		Classification: classification,
		Response:       artifact.Response,
		Score:          &score,
		PolicyMismatch: policyMismatches,
		ReasonCode:     reason,
		FromCache:      fromCache,
	}, &score, fingerprint, nil
}

// lookupOrInvoke implements spec §4.9 steps 1-2: check the fingerprint
// cache; on miss, invoke the model client (unless strict mode forbids it)
// and store the result.
func (r *Runner) lookupOrInvoke(ctx context.Context, tc TestCase, request interface{}, fingerprint string) (*Artifact, bool, error) {
	if r.cfg.Cache != nil {
		if artifact, ok, err := r.cfg.Cache.Lookup(fingerprint); err == nil && ok {
			return artifact, true, nil
		}
	}

	if r.cfg.Mode == ModeStrict {
		r.log.Warn("strict replay cache miss", "test_id", tc.TestID, "fingerprint", fingerprint)
		return nil, false, assayerr.New(assayerr.EReplayMissingDependency, "no cached artifact for test "+tc.TestID).WithPath(fingerprint)
	}

	if r.cfg.Model == nil {
		return nil, false, assayerr.New(assayerr.EReplayMissingDependency, "no model client configured for cache miss").WithPath(tc.TestID)
	}

	response, err := r.cfg.Model.Invoke(ctx, request)
	if err != nil {
		return nil, false, err
	}

	artifact := Artifact{Response: response}
	if r.cfg.Cache != nil {
		if serr := r.cfg.Cache.Store(fingerprint, artifact); serr != nil {
			r.log.Error("failed to store replay artifact", "test_id", tc.TestID, "error", serr)
		}
	}
	return &artifact, false, nil
}

// reevaluateToolCalls implements spec §4.9 step 3: run C6 for every
// recorded tool call and compare to the recorded verdict.
func (r *Runner) reevaluateToolCalls(tc TestCase) ([]string, string, error) {
	var mismatches []string
	reason := ""
	now := time.Now().UTC()

	for _, rec := range tc.ToolCalls() {
		var args interface{}
		if len(rec.Arguments) > 0 {
			if err := json.Unmarshal(rec.Arguments, &args); err != nil {
				return nil, "", fmt.Errorf("replay: test %s: invalid recorded arguments: %w", tc.TestID, err)
			}
		}

		call := decision.Call{
			ToolCallID: rec.ToolCallID,
			ToolName:   rec.ToolName,
			Arguments:  args,
			HasMandate: rec.HasMandate,
			SessionID:  rec.SessionID,
		}
		dec := decision.Decide(call, r.cfg.Policy, noHistory, now)

		if string(dec.Verdict) != rec.RecordedVerdict {
			mismatches = append(mismatches, rec.ToolCallID)
			if reason == "" {
				reason = string(assayerr.EPolicyViolation)
			}
		}
	}
	return mismatches, reason, nil
}

func noHistory(string) []string { return nil }

// classify implements spec §4.9 step 4's Pass/Fail/Flaky/Skipped/
// JudgeUncertain aggregation across a test's attempts.
func classify(attempts []Attempt) Classification {
	if len(attempts) == 0 {
		return Skipped
	}
	if len(attempts) == 1 {
		return attempts[0].Classification
	}

	seen := map[Classification]bool{}
	for _, a := range attempts {
		seen[a.Classification] = true
	}
	if len(seen) == 1 {
		for c := range seen {
			return c
		}
	}
	// Disagreement across retries of the same test is the definition of
	// flaky, unless every disagreement is itself JudgeUncertain-vs-Pass,
	// which still counts as flaky: a judge that can't agree with itself
	// twice in a row is not a confident Pass.
	return Flaky
}
