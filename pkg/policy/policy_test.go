package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompile_DenyWinsOverAllow(t *testing.T) {
	packs := []Pack{
		{Name: "base", Version: "1.0.0", Allow: []string{"fs.*"}, Deny: []string{"fs.delete"}},
	}
	cp, err := Compile(packs)
	require.NoError(t, err)

	require.True(t, cp.MatchesDeny("fs.delete"))
	_, allowed := cp.MatchesAllow("fs.delete")
	require.True(t, allowed) // matches the allow glob too — caller applies deny-wins ordering
}

func TestCompile_DeepestSpecificityWins(t *testing.T) {
	packs := []Pack{
		{Name: "base", Version: "1.0.0", Allow: []string{"fs.*", "fs.read"}},
	}
	cp, err := Compile(packs)
	require.NoError(t, err)

	best, ok := cp.MatchesAllow("fs.read")
	require.True(t, ok)
	require.Equal(t, "fs.read", best)
}

func TestCompile_Tier1ExactOnly(t *testing.T) {
	packs := []Pack{
		{Name: "base", Version: "1.0.0", Allow: []string{"fs.read", "net.*"}, Deny: []string{"fs.delete"}},
	}
	cp, err := Compile(packs)
	require.NoError(t, err)

	names := map[string]string{}
	for _, r := range cp.Tier1 {
		names[r.ToolName] = r.Verdict
	}
	require.Equal(t, "deny", names["fs.delete"])
	require.Equal(t, "allow", names["fs.read"])
	_, hasGlob := names["net.*"]
	require.False(t, hasGlob)
}

func TestCompile_Deterministic(t *testing.T) {
	packs := []Pack{
		{Name: "a", Version: "1.0.0", Deny: []string{"z.tool", "a.tool"}},
	}
	cp1, err := Compile(packs)
	require.NoError(t, err)
	cp2, err := Compile(packs)
	require.NoError(t, err)
	require.Equal(t, cp1.Tier1, cp2.Tier1)
}

func TestCompile_RejectsUncompilableArgumentSchema(t *testing.T) {
	packs := []Pack{{
		Name: "base", Version: "1.0.0",
		Tools: []ToolRule{{
			ToolName: "fs.read",
			ArgumentSchema: map[string]interface{}{
				"type": 12345, // not a valid JSON Schema "type" value
			},
		}},
	}}
	_, err := Compile(packs)
	require.Error(t, err)
}

func TestArgumentValidator_RejectsMissingRequired(t *testing.T) {
	schemaDoc := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"path"},
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
		},
	}
	v, err := CompileArgumentValidator(schemaDoc)
	require.NoError(t, err)

	err = v.Validate(map[string]interface{}{})
	require.Error(t, err)

	err = v.Validate(map[string]interface{}{"path": "/tmp/x"})
	require.NoError(t, err)
}

func TestSequenceValidator_RequiresBefore(t *testing.T) {
	v := NewSequenceValidator([]SequenceRule{
		{Before: "auth.login", Then: "payments.*"},
	})

	_, ok := v.Check("payments.charge", nil)
	require.False(t, ok)

	_, ok = v.Check("payments.charge", []string{"auth.login"})
	require.True(t, ok)
}
