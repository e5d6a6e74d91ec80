// Package decision implements the pure, side-effect-free decision engine
// (C6): given a tool call and a compiled policy, it produces exactly one
// Decision per spec §4.6's six-step algorithm. Grounded on the teacher's
// (deleted) pkg/pdp "policy decision point" shape — a pure function from
// request+policy to verdict+reason — rebuilt around Assay's tool-call/
// mandate model.
package decision

import (
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/policy"
)

// Verdict is the outcome of a decision.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// Call is the subset of a ToolCall the decision engine needs.
type Call struct {
	ToolCallID string
	ToolName   string
	Arguments  interface{}
	HasMandate bool
	SessionID  string
}

// Decision is the result of decide(), per spec §3.
type Decision struct {
	Verdict    Verdict
	ReasonCode assayerr.Code
	PolicyRefs []string // stable rule identifiers, for explain output and SARIF fingerprints
	Timestamp  time.Time
	ToolCallID string
}

// HistoryLookup returns the ordered tool-name history for a session, used
// by the sequence validator. Session history is per-session state owned by
// the proxy (spec §5); decide() only reads it.
type HistoryLookup func(sessionID string) []string

// Decide runs spec §4.6's algorithm against a compiled policy. now is
// passed explicitly so the engine stays pure and testable.
func Decide(call Call, cp *policy.CompiledPolicy, history HistoryLookup, now time.Time) Decision {
	deny := func(code assayerr.Code, refs ...string) Decision {
		return Decision{
			Verdict:    Deny,
			ReasonCode: code,
			PolicyRefs: refs,
			Timestamp:  now,
			ToolCallID: call.ToolCallID,
		}
	}

	// 1. Deny set match.
	if cp.MatchesDeny(call.ToolName) {
		return deny(assayerr.PTooLDenied, call.ToolName)
	}

	// 2. Allow set required but not matched.
	if cp.HasAllowList() {
		if _, ok := cp.MatchesAllow(call.ToolName); !ok {
			return deny(assayerr.PToolNotAllowed, call.ToolName)
		}
	}

	rule, hasRule := cp.ToolRuleFor(call.ToolName)

	// 3. Argument schema validation, against the validator policy.Compile
	// already built for this rule — a schema that fails to compile fails
	// Compile itself, so reaching here means validator is always non-nil
	// whenever rule.ArgumentSchema is set.
	if hasRule && rule.ArgumentSchema != nil {
		if validator, ok := cp.ValidatorFor(call.ToolName); ok {
			if verr := validator.Validate(call.Arguments); verr != nil {
				return deny(assayerr.PArgSchema, call.ToolName)
			}
		}
	}

	// 4. Sequence validation against session history.
	if len(cp.Sequences()) > 0 {
		var hist []string
		if history != nil {
			hist = history(call.SessionID)
		}
		sv := policy.NewSequenceValidator(cp.Sequences())
		if violated, ok := sv.Check(call.ToolName, hist); !ok {
			return deny(assayerr.PSequence, violated.Before+"->"+violated.Then)
		}
	}

	// 5. Mandate requirement.
	if hasRule && mandateRequired(rule.MandateRequirement) && !call.HasMandate {
		return deny(assayerr.MMandateRequired, call.ToolName)
	}

	// 6. Allow.
	ref := call.ToolName
	if hasRule {
		ref = rule.ToolName
	}
	return Decision{
		Verdict:    Allow,
		ReasonCode: assayerr.PAllow,
		PolicyRefs: []string{ref},
		Timestamp:  now,
		ToolCallID: call.ToolCallID,
	}
}

func mandateRequired(req policy.MandateRequirement) bool {
	return req != "" && req != policy.MandateNone
}
