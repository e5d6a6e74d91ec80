package policy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mindburn-labs/assay/pkg/canonicalize"
)

// ArgumentValidator checks tool-call arguments against a JSON Schema.
// Grounded on the teacher's pkg/firewall/firewall.go, which validated
// arguments ad hoc against a handful of named fields; this upgrades to a
// full JSON Schema engine since spec §4.3/§4.6 requires real schema
// semantics (required, type, enum, pattern, nested objects), which hand
// checks can't express for an open-ended per-tool schema.
type ArgumentValidator struct {
	schema *jsonschema.Schema
}

// CompileArgumentValidator compiles a tool's JSON Schema document (already
// a parsed map, as stored on a ToolRule) into a reusable validator.
func CompileArgumentValidator(schemaDoc map[string]interface{}) (*ArgumentValidator, error) {
	if schemaDoc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-arguments.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("policy: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("policy: compile schema: %w", err)
	}
	return &ArgumentValidator{schema: schema}, nil
}

// Validate checks arguments (already a parsed JSON value) against the
// schema. A nil validator always succeeds (no schema declared for the
// tool).
func (v *ArgumentValidator) Validate(arguments interface{}) error {
	if v == nil {
		return nil
	}
	return v.schema.Validate(arguments)
}

// ArgumentsDigest returns the JCS-canonical SHA-256 digest of the
// arguments alone. The mandate authorizer does not call it: it recomputes
// transaction_ref over mandate_id, tool_name and arguments together.
func ArgumentsDigest(arguments interface{}) (string, error) {
	return canonicalize.CanonicalHash(arguments)
}
