package policy

import (
	"fmt"
	"sort"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// Tier1Rule is an exact-string rule suitable for a kernel-side enforcer
// (spec §4.3). Assay's core never executes in the kernel; this table is
// emitted for a separate enforcer to consume.
type Tier1Rule struct {
	ToolName string `json:"tool_name"`
	Verdict  string `json:"verdict"` // "allow" or "deny"
}

// CompiledPolicy is the deterministic result of compiling one or more
// verified pack byte strings (spec §4.3).
type CompiledPolicy struct {
	Tier1 []Tier1Rule

	denyPatterns  []string
	allowPatterns []string // nil means "allow all" when no pack sets an allow list
	hasAllowList  bool

	toolsByPattern map[string]ToolRule
	toolPatterns   []string // stable iteration order, sorted
	validators     map[string]*ArgumentValidator

	sequences []SequenceRule
}

// Compile merges canonicalized, verified packs into a single
// CompiledPolicy. Compiling the same canonical bytes always yields a
// byte-identical Tier1 table and the same Tier2 behavior (spec §3
// invariant), because every collection here is sorted before use.
func Compile(packs []Pack) (*CompiledPolicy, error) {
	cp := &CompiledPolicy{toolsByPattern: map[string]ToolRule{}}

	for _, p := range packs {
		cp.denyPatterns = append(cp.denyPatterns, p.Deny...)
		if len(p.Allow) > 0 {
			cp.hasAllowList = true
			cp.allowPatterns = append(cp.allowPatterns, p.Allow...)
		}
		for _, t := range p.Tools {
			if existing, ok := cp.toolsByPattern[t.ToolName]; ok && !toolRuleEqual(existing, t) {
				return nil, fmt.Errorf("policy: conflicting tool rules for pattern %q", t.ToolName)
			}
			cp.toolsByPattern[t.ToolName] = t
		}
		cp.sequences = append(cp.sequences, p.Sequences...)
	}

	sort.Strings(cp.denyPatterns)
	sort.Strings(cp.allowPatterns)
	cp.toolPatterns = make([]string, 0, len(cp.toolsByPattern))
	for pattern := range cp.toolsByPattern {
		cp.toolPatterns = append(cp.toolPatterns, pattern)
	}
	sort.Strings(cp.toolPatterns)
	sort.Slice(cp.sequences, func(i, j int) bool {
		if cp.sequences[i].Before != cp.sequences[j].Before {
			return cp.sequences[i].Before < cp.sequences[j].Before
		}
		return cp.sequences[i].Then < cp.sequences[j].Then
	})

	// Argument validators compile once, here, rather than per Decide call:
	// a tool's schema is fixed once the policy is compiled, and a schema
	// that fails to compile must fail policy compilation rather than
	// silently allow every call to that tool at decision time.
	cp.validators = make(map[string]*ArgumentValidator, len(cp.toolPatterns))
	for _, pattern := range cp.toolPatterns {
		rule := cp.toolsByPattern[pattern]
		if rule.ArgumentSchema == nil {
			continue
		}
		validator, err := CompileArgumentValidator(rule.ArgumentSchema)
		if err != nil {
			return nil, fmt.Errorf("policy: compile argument schema for %q: %w", pattern, err)
		}
		cp.validators[pattern] = validator
	}

	cp.buildTier1()
	return cp, nil
}

func toolRuleEqual(a, b ToolRule) bool {
	ca, _ := canonicalize.CanonicalHash(a)
	cb, _ := canonicalize.CanonicalHash(b)
	return ca == cb
}

// buildTier1 emits the exact-string subset of deny/allow patterns as a
// simple table, deny-wins, in sorted order for determinism.
func (cp *CompiledPolicy) buildTier1() {
	seen := map[string]bool{}
	for _, pat := range cp.denyPatterns {
		if isExactMatch(pat) && !seen[pat] {
			cp.Tier1 = append(cp.Tier1, Tier1Rule{ToolName: pat, Verdict: "deny"})
			seen[pat] = true
		}
	}
	for _, pat := range cp.allowPatterns {
		if isExactMatch(pat) && !seen[pat] {
			cp.Tier1 = append(cp.Tier1, Tier1Rule{ToolName: pat, Verdict: "allow"})
			seen[pat] = true
		}
	}
}

// MatchesDeny reports whether toolName matches any deny pattern.
func (cp *CompiledPolicy) MatchesDeny(toolName string) bool {
	for _, pat := range cp.denyPatterns {
		if matchGlob(pat, toolName) {
			return true
		}
	}
	return false
}

// HasAllowList reports whether any pack declared an allow set.
func (cp *CompiledPolicy) HasAllowList() bool {
	return cp.hasAllowList
}

// MatchesAllow reports whether toolName matches any allow pattern, and
// returns the most specific matching pattern (deepest-specificity wins).
func (cp *CompiledPolicy) MatchesAllow(toolName string) (string, bool) {
	best := ""
	bestScore := -1
	matched := false
	for _, pat := range cp.allowPatterns {
		if matchGlob(pat, toolName) {
			matched = true
			if s := specificity(pat); s > bestScore {
				bestScore = s
				best = pat
			}
		}
	}
	return best, matched
}

// bestToolPattern returns the most specific toolPatterns entry matching
// toolName, if any.
func (cp *CompiledPolicy) bestToolPattern(toolName string) (string, bool) {
	best := ""
	bestScore := -1
	found := false
	for _, pat := range cp.toolPatterns {
		if matchGlob(pat, toolName) {
			if s := specificity(pat); s > bestScore {
				bestScore = s
				best = pat
				found = true
			}
		}
	}
	return best, found
}

// ToolRuleFor returns the ToolRule for the most specific matching pattern,
// if any.
func (cp *CompiledPolicy) ToolRuleFor(toolName string) (ToolRule, bool) {
	pattern, ok := cp.bestToolPattern(toolName)
	if !ok {
		return ToolRule{}, false
	}
	return cp.toolsByPattern[pattern], true
}

// ValidatorFor returns the precompiled argument validator for the most
// specific pattern matching toolName, if that rule declares a schema.
func (cp *CompiledPolicy) ValidatorFor(toolName string) (*ArgumentValidator, bool) {
	pattern, ok := cp.bestToolPattern(toolName)
	if !ok {
		return nil, false
	}
	v, ok := cp.validators[pattern]
	return v, ok
}

// Sequences returns the compiled sequence rules in stable order.
func (cp *CompiledPolicy) Sequences() []SequenceRule {
	return cp.sequences
}
