package policy

// SequenceValidator checks a proposed tool name against a session's call
// history for required-before relationships (spec §4.3/§4.6). History is
// owned by the caller (the proxy keeps it per-session, not shared — spec
// §5); this type is a pure function over a slice.
type SequenceValidator struct {
	rules []SequenceRule
}

// NewSequenceValidator builds a validator from the compiled policy's
// sequence rules.
func NewSequenceValidator(rules []SequenceRule) *SequenceValidator {
	return &SequenceValidator{rules: rules}
}

// Check reports whether toolName may be called given the ordered history
// of previously-called tool names in this session. It returns the first
// violated rule, if any.
func (v *SequenceValidator) Check(toolName string, history []string) (violated *SequenceRule, ok bool) {
	for i := range v.rules {
		rule := v.rules[i]
		if !matchGlob(rule.Then, toolName) {
			continue
		}
		if !anyMatches(rule.Before, history) {
			return &rule, false
		}
	}
	return nil, true
}

func anyMatches(pattern string, history []string) bool {
	for _, h := range history {
		if matchGlob(pattern, h) {
			return true
		}
	}
	return false
}
