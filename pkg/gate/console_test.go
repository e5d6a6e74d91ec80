package gate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/assay/pkg/replay"
)

func TestWriteFooter_SeedsLineFormat(t *testing.T) {
	var buf bytes.Buffer
	run := &replay.Run{Seeds: replay.Seeds{OrderSeed: 42, JudgeSeed: 7, HasJudge: true}}
	require.NoError(t, WriteFooter(&buf, run))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Equal(t, "Seeds: seed_version=1 order_seed=42 judge_seed=7", lines[0])
}

func TestWriteFooter_NullJudgeSeedWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	run := &replay.Run{Seeds: replay.Seeds{OrderSeed: 1}}
	require.NoError(t, WriteFooter(&buf, run))
	require.Contains(t, buf.String(), "judge_seed=null")
}

func TestWriteFooter_IncludesJudgeMetricsLineWhenPresent(t *testing.T) {
	var buf bytes.Buffer
	run := &replay.Run{
		Seeds:        replay.Seeds{OrderSeed: 1},
		JudgeMetrics: &replay.JudgeMetrics{AbstainRate: 0.25, FlipRate: 0, ConsensusRate: 1, Margin: 0.5},
	}
	require.NoError(t, WriteFooter(&buf, run))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "abstain_rate=0.2500")
}
