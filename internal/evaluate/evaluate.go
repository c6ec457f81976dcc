// Package evaluate scores a finished session against its task definition
// and classifies failures into error categories. Scores are four
// dimensions in [0, 1]: did the session pick the right tools, call them in
// the right order, avoid wasted calls, and produce the expected output.
package evaluate

import (
	"strings"

	"github.com/torosent/gauntlet/internal/tasklib"
)

// Success levels assigned to every result.
const (
	FullSuccess    = "full_success"
	PartialSuccess = "partial_success"
	Failure        = "failure"
)

// Composite weights. Selection and output carry the most signal; ordering
// and efficiency refine the middle of the scale.
const (
	weightSelection  = 0.3
	weightOrdering   = 0.2
	weightEfficiency = 0.2
	weightOutput     = 0.3

	fullThreshold    = 0.95
	partialThreshold = 0.5
)

// Score is the per-dimension breakdown plus the weighted composite.
type Score struct {
	ToolSelection float64 `json:"tool_selection"`
	Ordering      float64 `json:"ordering"`
	Efficiency    float64 `json:"efficiency"`
	Output        float64 `json:"output"`
	Composite     float64 `json:"composite"`
}

// Evaluate scores one session. used is the sequence of tool names the
// session actually invoked, output the text of its completion signal.
// Sessions that never signaled completion score zero on output and are
// always a Failure regardless of the tool dimensions; their breakdown is
// still computed so aggregates show how far they got.
func Evaluate(task *tasklib.Task, used []string, output string, completed bool) (Score, string) {
	expectedOrder := task.ExpectedOrder()
	expectedSet := task.ExpectedTools()

	score := Score{
		ToolSelection: selectionScore(expectedSet, used),
		Ordering:      orderingScore(expectedOrder, used),
		Efficiency:    efficiencyScore(len(expectedOrder), len(used)),
	}
	if completed {
		score.Output = outputScore(task.Expect.Keywords, output)
	}
	score.Composite = weightSelection*score.ToolSelection +
		weightOrdering*score.Ordering +
		weightEfficiency*score.Efficiency +
		weightOutput*score.Output

	level := Failure
	switch {
	case !completed:
	case score.Composite >= fullThreshold:
		level = FullSuccess
	case score.Composite >= partialThreshold:
		level = PartialSuccess
	}
	return score, level
}

// selectionScore is the fraction of expected tools the session touched at
// least once. Extra tools are penalized by efficiency, not here.
func selectionScore(expected, used []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	usedSet := make(map[string]bool, len(used))
	for _, name := range used {
		usedSet[strings.ToLower(name)] = true
	}
	hit := 0
	for _, name := range expected {
		if usedSet[strings.ToLower(name)] {
			hit++
		}
	}
	return float64(hit) / float64(len(expected))
}

// orderingScore is the longest common subsequence between the expected
// call order and the actual one, normalized by the expected length. A
// retried tool appearing twice does not break the subsequence.
func orderingScore(expected, used []string) float64 {
	if len(expected) == 0 {
		return 1
	}
	if len(used) == 0 {
		return 0
	}
	n, m := len(expected), len(used)
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if strings.EqualFold(expected[i-1], used[j-1]) {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return float64(prev[m]) / float64(n)
}

// efficiencyScore compares call volume to the expected plan length.
// Calling fewer tools than planned is already punished by selection and
// ordering, so only excess lowers this dimension.
func efficiencyScore(expected, used int) float64 {
	if expected == 0 {
		if used == 0 {
			return 1
		}
		return 0
	}
	if used <= expected {
		return 1
	}
	return float64(expected) / float64(used)
}

// outputScore is the fraction of expected keywords present in the final
// output, case-insensitive. Tasks without keywords accept any completion.
func outputScore(keywords []string, output string) float64 {
	if len(keywords) == 0 {
		return 1
	}
	lowered := strings.ToLower(output)
	hit := 0
	for _, kw := range keywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			hit++
		}
	}
	return float64(hit) / float64(len(keywords))
}
