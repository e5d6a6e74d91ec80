// Package policy implements the policy compiler (C3): turning one or more
// verified policy packs into a CompiledPolicy with a Tier-1 (exact-string,
// kernel-suitable) and Tier-2 (glob/schema/sequence/mandate, userspace)
// split, per spec §4.3.
//
// Grounded on the teacher's policy-engine shape (rule lists keyed by
// subject, deny-wins conflict resolution) but rebuilt around Assay's
// tool-name/argument-schema/sequence/mandate rule model instead of the
// teacher's capability/resource model.
package policy

import "github.com/mindburn-labs/assay/pkg/canonicalize"

// OperationClass is a tool's declared effect class (spec §3, §4.7).
type OperationClass string

const (
	OpRead   OperationClass = "read"
	OpWrite  OperationClass = "write"
	OpCommit OperationClass = "commit"
)

// MandateRequirement describes what a tool requires of an attached mandate.
type MandateRequirement string

const (
	MandateNone  MandateRequirement = "none"
	MandateAny   MandateRequirement = "any"
	MandateRead  MandateRequirement = "class:read"
	MandateWrite MandateRequirement = "class:write"
	MandateCommit MandateRequirement = "class:commit"
)

// SequenceRule requires that, within a session, a call to Then must be
// preceded somewhere in the session's history by a call matching Before.
type SequenceRule struct {
	Before string `json:"before"` // tool-name glob
	Then   string `json:"then"`   // tool-name glob
}

// ToolRule is one per-tool entry in a pack: its operation class, argument
// schema, and mandate requirement.
type ToolRule struct {
	ToolName           string             `json:"tool_name"` // exact name or glob
	OperationClass     OperationClass     `json:"operation_class"`
	ArgumentSchema     map[string]interface{} `json:"argument_schema,omitempty"`
	MandateRequirement MandateRequirement `json:"mandate_requirement"`
}

// Pack is a named, versioned policy document (spec §3).
type Pack struct {
	Name          string         `json:"name"`
	Version       string         `json:"version"`
	Allow         []string       `json:"allow,omitempty"` // tool-name globs; absent = allow-all
	Deny          []string       `json:"deny,omitempty"`
	Tools         []ToolRule     `json:"tools,omitempty"`
	Sequences     []SequenceRule `json:"sequences,omitempty"`
	RequireSigned bool           `json:"require_signed"`
}

// CanonicalDigest returns the JCS-canonical SHA-256 digest of the pack's
// parsed form — its content identity (spec §3).
func (p Pack) CanonicalDigest() (string, error) {
	return canonicalize.CanonicalHash(p)
}
