package policy

import "path"

// matchGlob reports whether name matches the tool-name glob pattern, using
// stdlib path.Match's single-segment */?/[...] semantics. No glob library
// exists anywhere in the example corpus this repo is grounded on; tool
// names have no path-separator structure to preserve, so path.Match's
// shell-style matching is sufficient without pulling in doublestar-style
// multi-segment globbing.
func matchGlob(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// MatchesGlob is matchGlob's exported form, reused outside this package by
// pkg/mandate to check a tool name against a mandate's scope globs.
func MatchesGlob(pattern, name string) bool {
	return matchGlob(pattern, name)
}

// isExactMatch reports whether pattern contains no glob metacharacters,
// making it eligible for the Tier-1 (kernel-suitable) table.
func isExactMatch(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']':
			return false
		}
	}
	return true
}

// specificity scores a matched pattern for deepest-specificity-wins
// conflict resolution among allows: an exact match beats any glob, and
// among globs a longer literal prefix beats a shorter one.
func specificity(pattern string) int {
	if isExactMatch(pattern) {
		return len(pattern) + 1<<20 // exact matches always outrank globs
	}
	prefixLen := 0
	for _, r := range pattern {
		if r == '*' || r == '?' || r == '[' {
			break
		}
		prefixLen++
	}
	return prefixLen
}
