package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/replay"
)

func TestBuildSARIF_NoTruncationBelowCap(t *testing.T) {
	run := &replay.Run{Results: []replay.Result{
		{TestID: "a", Classification: replay.Pass},
		{TestID: "b", Classification: replay.Fail, Attempts: []replay.Attempt{{ReasonCode: "E_TEST_FAILED"}}},
	}}
	log, omitted := BuildSARIF(run, 10)
	require.Equal(t, 0, omitted)
	require.Len(t, log.Runs[0].Results, 2)
	require.Nil(t, log.Runs[0].Properties)
	require.Equal(t, "error", log.Runs[0].Results[1].Level)
}

func TestBuildSARIF_TruncatesDeterministically(t *testing.T) {
	run := &replay.Run{Results: []replay.Result{
		{TestID: "a", Classification: replay.Pass},
		{TestID: "b", Classification: replay.Pass},
		{TestID: "c", Classification: replay.Pass},
	}}
	log, omitted := BuildSARIF(run, 2)
	require.Equal(t, 1, omitted)
	require.Len(t, log.Runs[0].Results, 2)
	require.NotNil(t, log.Runs[0].Properties)
	require.True(t, log.Runs[0].Properties.Assay.Truncated)
	require.Equal(t, 1, log.Runs[0].Properties.Assay.OmittedCount)
}

func TestBuildSARIF_ZeroCapUsesDefault(t *testing.T) {
	run := &replay.Run{}
	log, omitted := BuildSARIF(run, 0)
	require.Equal(t, 0, omitted)
	require.Equal(t, "2.1.0", log.Version)
}
