package gate

import (
	"fmt"
	"io"

	"github.com/mindburn-labs/assay/pkg/replay"
)

// WriteFooter writes the stderr console footer, per spec §4.10: "final
// two lines: `Seeds: seed_version=1 order_seed=<v> judge_seed=<v>` and,
// when present, a judge-metrics one-liner." order_seed is always printed
// as a decimal; judge_seed prints as `null` when absent, matching
// run.json's JSON null for that field rather than an empty string.
func WriteFooter(w io.Writer, run *replay.Run) error {
	judgeSeed := "null"
	if js, ok := run.Seeds.JudgeSeedString(); ok {
		judgeSeed = js
	}

	if _, err := fmt.Fprintf(w, "Seeds: seed_version=%d order_seed=%s judge_seed=%s\n", seedVersionValue, run.Seeds.OrderSeedString(), judgeSeed); err != nil {
		return err
	}
	if run.JudgeMetrics == nil {
		return nil
	}
	m := run.JudgeMetrics
	_, err := fmt.Fprintf(w, "Judge metrics: abstain_rate=%.4f flip_rate=%.4f consensus_rate=%.4f margin=%.4f\n",
		m.AbstainRate, m.FlipRate, m.ConsensusRate, m.Margin)
	return err
}
