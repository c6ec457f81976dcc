package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/torosent/gauntlet/internal/gate"
	"github.com/torosent/gauntlet/internal/metrics"
	"github.com/torosent/gauntlet/internal/stats"
)

// Completion describes how much of the plan actually ran.
type Completion struct {
	Planned     int64  `json:"planned"`
	Launched    int64  `json:"launched"`
	Completed   int64  `json:"completed"`
	FatalStatus string `json:"fatal_status,omitempty"`
}

// Partial reports whether the run stopped before every planned session
// finished.
func (c Completion) Partial() bool {
	return c.Completed < c.Planned || c.FatalStatus != ""
}

// Summary is the JSON document emitted with --json.
type Summary struct {
	RunID      string        `json:"run_id"`
	ShardID    string        `json:"shard_id,omitempty"`
	Model      string        `json:"model"`
	Completion Completion    `json:"completion"`
	Stats      metrics.Stats `json:"stats"`
	Gates      []gate.Result `json:"gates,omitempty"`
	Breakdown  *stats.Store  `json:"breakdown,omitempty"`
}

// PrintSummary outputs a human-readable end-of-run summary.
func PrintSummary(w io.Writer, c Completion, st metrics.Stats) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	if c.Planned > 0 {
		suffix := ""
		if c.Partial() {
			suffix = " (incomplete)"
		}
		fmt.Fprintf(w, "Sessions:          %d of %d planned%s\n", c.Completed, c.Planned, suffix)
	} else {
		fmt.Fprintf(w, "Sessions:          %d\n", st.Total)
	}
	if c.FatalStatus != "" {
		fmt.Fprintf(w, "Aborted:           %s\n", c.FatalStatus)
	}
	fmt.Fprintf(w, "Full Success:      %d\n", st.FullSuccess)
	fmt.Fprintf(w, "Partial Success:   %d\n", st.PartialSuccess)
	fmt.Fprintf(w, "Failed:            %d\n", st.Failure)
	fmt.Fprintf(w, "Duration:          %s\n", msToDuration(st.ElapsedMs))
	fmt.Fprintf(w, "Sessions/sec:      %.2f\n", st.SessionsPerSec)
	fmt.Fprintf(w, "Tokens:            in=%d out=%d\n", st.InputTokens, st.OutputTokens)
	fmt.Fprintln(w, "\nSession Duration:")
	fmt.Fprintf(w, "  Min:             %s\n", msToDuration(st.MinDurationMs))
	fmt.Fprintf(w, "  Max:             %s\n", msToDuration(st.MaxDurationMs))
	fmt.Fprintf(w, "  Mean:            %s\n", msToDuration(st.MeanDurationMs))
	fmt.Fprintf(w, "  P50:             %s\n", msToDuration(st.P50DurationMs))
	fmt.Fprintf(w, "  P90:             %s\n", msToDuration(st.P90DurationMs))
	fmt.Fprintf(w, "  P99:             %s\n", msToDuration(st.P99DurationMs))
	if st.MeanLimiterWaitMs > 0 {
		fmt.Fprintf(w, "  Limiter Wait:    %s (mean)\n", msToDuration(st.MeanLimiterWaitMs))
	}
	if len(st.Statuses) > 0 {
		fmt.Fprintln(w, "\nTerminal Statuses:")
		for _, row := range metrics.FlattenStatuses(st.Statuses) {
			fmt.Fprintf(w, "  %s: %d\n", row.Status, row.Count)
		}
	}
}

// PrintBreakdown outputs one line per populated bucket of the hierarchy,
// in model / variant / reliability / difficulty / task-type order.
func PrintBreakdown(w io.Writer, store *stats.Store) {
	if store == nil {
		return
	}
	first := true
	store.Walk(func(key stats.Key, b stats.Bucket) {
		if first {
			fmt.Fprintln(w, "\nBreakdown:")
			first = false
		}
		fmt.Fprintf(w,
			"  - %s/%s r=%s %s/%s: total=%d, full=%.1f%%, fail=%.1f%%, composite=%.2f, mean=%s\n",
			key.Model, key.Variant, key.Reliability, key.Difficulty, key.TaskType,
			b.Total, b.FullRate()*100, b.FailureRate()*100, b.MeanComposite(),
			msToDuration(b.MeanDurationMS()),
		)
	})
}

// PrintGates outputs one line per gate result.
func PrintGates(w io.Writer, results []gate.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(w, "\nGates:")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
	}
}

// PrintJSON outputs the summary as an indented JSON document.
func PrintJSON(w io.Writer, s Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond)
}
