package replay

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTrace_GroupsByTestIDAndSorts(t *testing.T) {
	data := strings.Join([]string{
		`{"test_id":"b","tool_name":"files.read","recorded_verdict":"allow","tool_call_id":"tc1"}`,
		`{"test_id":"a","request":{"prompt":"hi"},"response":{"text":"hello"}}`,
		`{"test_id":"b","tool_name":"files.write","recorded_verdict":"deny","tool_call_id":"tc2"}`,
	}, "\n")

	cases, err := LoadTrace(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, cases, 2)
	require.Equal(t, "a", cases[0].TestID)
	require.Equal(t, "b", cases[1].TestID)
	require.Len(t, cases[1].ToolCalls(), 2)

	req, ok := cases[0].RequestFor()
	require.True(t, ok)
	require.Equal(t, map[string]interface{}{"prompt": "hi"}, req)
}

func TestLoadTrace_MissingTestIDFails(t *testing.T) {
	_, err := LoadTrace(strings.NewReader(`{"tool_name":"x"}`))
	require.Error(t, err)
}

func TestLoadTrace_SkipsBlankLines(t *testing.T) {
	data := "\n" + `{"test_id":"a","tool_name":"x","recorded_verdict":"allow"}` + "\n\n"
	cases, err := LoadTrace(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, cases, 1)
}
