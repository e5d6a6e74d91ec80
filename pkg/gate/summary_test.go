package gate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/replay"
)

func TestBuildSummary_SortsResultsAndComputesStats(t *testing.T) {
	run := &replay.Run{
		Seeds: replay.Seeds{OrderSeed: 1},
		Results: []replay.Result{
			{TestID: "zeta", Classification: replay.Pass, Attempts: []replay.Attempt{{}}},
			{TestID: "alpha", Classification: replay.Fail, Attempts: []replay.Attempt{{}, {}}},
		},
	}
	summary := BuildSummary(run, 0)
	require.Equal(t, "alpha", summary.Results[0].TestID)
	require.Equal(t, "zeta", summary.Results[1].TestID)
	require.Equal(t, schemaVersion, summary.SchemaVersion)
	require.Equal(t, 2, summary.Stats.TotalTests)
	require.Equal(t, 1, summary.Stats.Passed)
	require.Equal(t, 1, summary.Stats.Failed)
	require.Equal(t, 3, summary.Stats.TotalAttempts)
}

func TestBuildSummary_DoesNotMutateOriginalRun(t *testing.T) {
	run := &replay.Run{Results: []replay.Result{
		{TestID: "b"}, {TestID: "a"},
	}}
	_ = BuildSummary(run, 0)
	require.Equal(t, "b", run.Results[0].TestID, "BuildSummary must sort a copy, not the caller's slice")
}
