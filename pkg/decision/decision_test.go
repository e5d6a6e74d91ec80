package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/policy"
)

func compilePolicy(t *testing.T, packs []policy.Pack) *policy.CompiledPolicy {
	t.Helper()
	cp, err := policy.Compile(packs)
	require.NoError(t, err)
	return cp
}

func TestDecide_DenyBeatsEverything(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{Name: "p", Version: "1", Deny: []string{"fs.delete"}}})
	d := Decide(Call{ToolCallID: "1", ToolName: "fs.delete"}, cp, nil, time.Now())
	require.Equal(t, Deny, d.Verdict)
	require.Equal(t, assayerr.PTooLDenied, d.ReasonCode)
}

func TestDecide_NotInAllowList(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{Name: "p", Version: "1", Allow: []string{"fs.read"}}})
	d := Decide(Call{ToolCallID: "1", ToolName: "fs.write"}, cp, nil, time.Now())
	require.Equal(t, Deny, d.Verdict)
	require.Equal(t, assayerr.PToolNotAllowed, d.ReasonCode)
}

func TestDecide_ArgSchemaViolation(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{
		Name: "p", Version: "1",
		Allow: []string{"fs.read"},
		Tools: []policy.ToolRule{
			{
				ToolName:       "fs.read",
				OperationClass: policy.OpRead,
				ArgumentSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"path"},
				},
			},
		},
	}})
	d := Decide(Call{ToolCallID: "1", ToolName: "fs.read", Arguments: map[string]interface{}{}}, cp, nil, time.Now())
	require.Equal(t, Deny, d.Verdict)
	require.Equal(t, assayerr.PArgSchema, d.ReasonCode)
}

func TestDecide_SequenceViolation(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{
		Name: "p", Version: "1",
		Sequences: []policy.SequenceRule{{Before: "auth.login", Then: "payments.*"}},
	}})
	d := Decide(Call{ToolCallID: "1", ToolName: "payments.charge", SessionID: "s1"}, cp, func(string) []string { return nil }, time.Now())
	require.Equal(t, Deny, d.Verdict)
	require.Equal(t, assayerr.PSequence, d.ReasonCode)
}

func TestDecide_MandateRequired(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{
		Name: "p", Version: "1",
		Tools: []policy.ToolRule{
			{ToolName: "payments.charge", OperationClass: policy.OpCommit, MandateRequirement: policy.MandateCommit},
		},
	}})
	d := Decide(Call{ToolCallID: "1", ToolName: "payments.charge", HasMandate: false}, cp, nil, time.Now())
	require.Equal(t, Deny, d.Verdict)
	require.Equal(t, assayerr.MMandateRequired, d.ReasonCode)
}

func TestDecide_Allow(t *testing.T) {
	cp := compilePolicy(t, []policy.Pack{{Name: "p", Version: "1"}})
	d := Decide(Call{ToolCallID: "1", ToolName: "fs.read"}, cp, nil, time.Now())
	require.Equal(t, Allow, d.Verdict)
	require.Equal(t, assayerr.PAllow, d.ReasonCode)
}
