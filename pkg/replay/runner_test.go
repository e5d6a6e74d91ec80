package replay

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/assayerr"
	"github.com/mindburn-labs/assay/pkg/policy"
)

type memCache struct {
	entries map[string]Artifact
}

func newMemCache() *memCache { return &memCache{entries: map[string]Artifact{}} }

func (c *memCache) Lookup(fp string) (*Artifact, bool, error) {
	a, ok := c.entries[fp]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (c *memCache) Store(fp string, a Artifact) error {
	c.entries[fp] = a
	return nil
}

type fakeModel struct {
	calls int
}

func (m *fakeModel) Invoke(context.Context, interface{}) (json.RawMessage, error) {
	m.calls++
	return json.RawMessage(`{"text":"hello"}`), nil
}

type fakeJudge struct {
	pass      bool
	abstained bool
}

func (j fakeJudge) Score(interface{}, json.RawMessage, json.RawMessage, uint64) (JudgeScore, error) {
	return JudgeScore{Pass: j.pass, Abstained: j.abstained, Margin: 0.9}, nil
}

func testPolicy(t *testing.T, pack policy.Pack) *policy.CompiledPolicy {
	t.Helper()
	cp, err := policy.Compile([]policy.Pack{pack})
	require.NoError(t, err)
	return cp
}

func TestRunner_CacheMissInvokesModelAndStoresArtifact(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	cache := newMemCache()
	model := &fakeModel{}
	r := NewRunner(Config{Policy: cp, Cache: cache, Model: model, Judge: fakeJudge{pass: true}, Mode: ModeAuto})

	cases, err := LoadTrace(jsonLines(`{"test_id":"t1","request":{"prompt":"hi"}}`))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, 1, model.calls)
	require.Len(t, run.Results, 1)
	require.Equal(t, Pass, run.Results[0].Classification)
	require.Len(t, cache.entries, 1)
}

func TestRunner_CacheHitSkipsModelInvocation(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	cache := newMemCache()
	fp, err := Fingerprint(map[string]interface{}{"prompt": "hi"})
	require.NoError(t, err)
	require.NoError(t, cache.Store(fp, Artifact{Response: json.RawMessage(`{"text":"cached"}`)}))

	model := &fakeModel{}
	r := NewRunner(Config{Policy: cp, Cache: cache, Model: model, Judge: fakeJudge{pass: true}, Mode: ModeAuto})

	cases, err := LoadTrace(jsonLines(`{"test_id":"t1","request":{"prompt":"hi"}}`))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, 0, model.calls)
	require.True(t, run.Results[0].Attempts[0].FromCache)
}

func TestRunner_StrictModeMissingCacheFails(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	cache := newMemCache()
	r := NewRunner(Config{Policy: cp, Cache: cache, Model: &fakeModel{}, Mode: ModeStrict})

	cases, err := LoadTrace(jsonLines(`{"test_id":"t1","request":{"prompt":"hi"}}`))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, Fail, run.Results[0].Classification)
	require.Equal(t, string(assayerr.EReplayMissingDependency), run.Results[0].Attempts[0].ReasonCode)
}

func TestRunner_ToolCallPolicyMismatchFails(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0", Deny: []string{"exec.shell"}})
	r := NewRunner(Config{Policy: cp})

	cases, err := LoadTrace(jsonLines(
		`{"test_id":"t1","tool_call_id":"tc1","tool_name":"exec.shell","recorded_verdict":"allow"}`,
	))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, Fail, run.Results[0].Classification)
	require.Equal(t, []string{"tc1"}, run.Results[0].Attempts[0].PolicyMismatch)
}

func TestRunner_ToolCallPolicyMatchPasses(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0", Deny: []string{"exec.shell"}})
	r := NewRunner(Config{Policy: cp})

	cases, err := LoadTrace(jsonLines(
		`{"test_id":"t1","tool_call_id":"tc1","tool_name":"exec.shell","recorded_verdict":"deny"}`,
	))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, Pass, run.Results[0].Classification)
}

func TestRunner_JudgeAbstainIsJudgeUncertain(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	cache := newMemCache()
	r := NewRunner(Config{Policy: cp, Cache: cache, Model: &fakeModel{}, Judge: fakeJudge{abstained: true}, Mode: ModeAuto})

	cases, err := LoadTrace(jsonLines(`{"test_id":"t1","request":{"prompt":"hi"}}`))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, JudgeUncertain, run.Results[0].Classification)
	require.NotNil(t, run.JudgeMetrics)
	require.Equal(t, 1.0, run.JudgeMetrics.AbstainRate)
}

func TestRunner_RetriesDisagreeingClassificationIsFlaky(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	cache := &flappingCache{}
	r := NewRunner(Config{Policy: cp, Cache: cache, Judge: fakeJudge{pass: true}, Mode: ModeStrict, Retries: 1})

	cases, err := LoadTrace(jsonLines(`{"test_id":"t1","request":{"prompt":"hi"}}`))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, Flaky, run.Results[0].Classification)
	require.Len(t, run.Results[0].Attempts, 2)
}

func TestRunner_ResultsSortedByTestID(t *testing.T) {
	cp := testPolicy(t, policy.Pack{Name: "p", Version: "1.0.0"})
	r := NewRunner(Config{Policy: cp, OrderSeed: 7})

	cases, err := LoadTrace(jsonLines(
		`{"test_id":"zeta","tool_name":"x","recorded_verdict":"allow"}`,
		`{"test_id":"alpha","tool_name":"y","recorded_verdict":"allow"}`,
	))
	require.NoError(t, err)

	run, err := r.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Equal(t, "alpha", run.Results[0].TestID)
	require.Equal(t, "zeta", run.Results[1].TestID)
}

// flappingCache hits on its first Lookup and misses thereafter, simulating
// an artifact that disappears (e.g. evicted) between retries — used to
// exercise Flaky classification deterministically: one attempt finds the
// cached artifact and passes, the next hits strict mode's missing-
// dependency failure, without depending on judge randomness.
type flappingCache struct {
	lookups int
}

func (c *flappingCache) Lookup(string) (*Artifact, bool, error) {
	c.lookups++
	if c.lookups == 1 {
		return &Artifact{Response: json.RawMessage(`{"text":"first"}`)}, true, nil
	}
	return nil, false, nil
}

func (c *flappingCache) Store(string, Artifact) error { return nil }

func jsonLines(lines ...string) io.Reader {
	joined := ""
	for i, l := range lines {
		if i > 0 {
			joined += "\n"
		}
		joined += l
	}
	return strings.NewReader(joined)
}
