// Package gate checks summary assertions against a finished run. A gate
// is a one-line expression such as "success_rate:full >= 0.8"; a run with
// any failed gate exits non-zero so CI pipelines can block on benchmark
// regressions.
package gate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/gauntlet/internal/metrics"
)

// Gate is one parsed summary assertion.
type Gate struct {
	Metric    string  `json:"metric"`              // e.g. "success_rate", "latency_ms"
	Qualifier string  `json:"qualifier,omitempty"` // e.g. "full", "p99"; empty when the metric has one reading
	Operator  string  `json:"operator"`            // <, <=, >, >=, ==
	Value     float64 `json:"value"`               // comparison operand
	Raw       string  `json:"raw"`                 // original expression for display
}

// Result is the outcome of evaluating one gate.
type Result struct {
	Gate    Gate    `json:"gate"`
	Actual  float64 `json:"actual"`
	Pass    bool    `json:"pass"`
	Message string  `json:"message"`
}

// Evaluator evaluates gates against a run summary.
type Evaluator struct {
	gates []Gate
}

// NewEvaluator creates an evaluator over the given gates.
func NewEvaluator(gates []Gate) *Evaluator {
	return &Evaluator{gates: gates}
}

// Evaluate checks every gate against the stats snapshot.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.gates) == 0 {
		return nil
	}
	results := make([]Result, 0, len(e.gates))
	for _, g := range e.gates {
		results = append(results, evaluateOne(g, stats))
	}
	return results
}

// AllPassed reports whether every gate held.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(g Gate, stats metrics.Stats) Result {
	actual, err := extractValue(g, stats)
	if err != nil {
		return Result{
			Gate:    g,
			Pass:    false,
			Message: fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, g.Operator, g.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Gate:    g,
		Actual:  actual,
		Pass:    pass,
		Message: fmt.Sprintf("%s %s: %.2f %s %.2f", status, g.Raw, actual, g.Operator, g.Value),
	}
}

// exprPattern: metric[:qualifier] operator value.
var exprPattern = regexp.MustCompile(`^([a-z0-9_]+)(?::([a-z0-9_]+))?\s*([<>=!]+)\s*([0-9.]+)$`)

// flatAliases lets common latency gates be written as a single token,
// e.g. "p95_latency_ms < 2000" instead of "latency_ms:p95 < 2000".
var flatAliases = map[string]Gate{
	"p50_latency_ms":  {Metric: "latency_ms", Qualifier: "p50"},
	"p90_latency_ms":  {Metric: "latency_ms", Qualifier: "p90"},
	"p95_latency_ms":  {Metric: "latency_ms", Qualifier: "p95"},
	"p99_latency_ms":  {Metric: "latency_ms", Qualifier: "p99"},
	"mean_latency_ms": {Metric: "latency_ms", Qualifier: "avg"},
	"min_latency_ms":  {Metric: "latency_ms", Qualifier: "min"},
	"max_latency_ms":  {Metric: "latency_ms", Qualifier: "max"},
}

// validMetrics lists supported metrics in display order.
var validMetrics = []string{"success_rate", "error_rate", "sessions", "latency_ms", "limiter_wait_ms", "tokens"}

// validQualifiers names the readings each metric supports. The empty
// string marks the metric usable without a qualifier.
var validQualifiers = map[string][]string{
	"success_rate":    {"", "full", "partial", "any"},
	"error_rate":      {""},
	"sessions":        {"count", "rate"},
	"latency_ms":      {"p50", "p90", "p95", "p99", "avg", "mean", "min", "max"},
	"limiter_wait_ms": {"", "avg", "mean"},
	"tokens":          {"input", "output"},
}

// Parse parses one gate expression.
// Supported forms:
//   - "success_rate:full >= 0.8"   (fraction of sessions fully successful)
//   - "success_rate >= 0.9"        (full plus partial)
//   - "error_rate < 0.1"           (fraction of failed sessions)
//   - "latency_ms:p99 < 30000"     (session duration percentile)
//   - "p95_latency_ms < 2000"      (flat alias for latency_ms:p95)
//   - "sessions:rate > 0.5"        (completed sessions per second)
//   - "tokens:output < 500000"     (total output tokens)
func Parse(s string) (Gate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Gate{}, fmt.Errorf("empty gate expression")
	}

	matches := exprPattern.FindStringSubmatch(s)
	if matches == nil {
		return Gate{}, fmt.Errorf("invalid gate format: %q (expected metric[:qualifier] operator value, e.g. 'success_rate:full >= 0.8')", s)
	}

	metric := matches[1]
	qualifier := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	if alias, ok := flatAliases[metric]; ok && qualifier == "" {
		metric = alias.Metric
		qualifier = alias.Qualifier
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Gate{}, fmt.Errorf("invalid gate value %q: %v", valueStr, err)
	}

	qualifiers, ok := validQualifiers[metric]
	if !ok {
		return Gate{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(validMetrics, ", "))
	}
	if !contains(qualifiers, qualifier) {
		return Gate{}, fmt.Errorf("unsupported qualifier %q for metric %q (supported: %s)", qualifier, metric, strings.Join(nonEmpty(qualifiers), ", "))
	}
	if !isValidOperator(operator) {
		return Gate{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Gate{
		Metric:    metric,
		Qualifier: qualifier,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseAll parses a list of gate expressions, collecting every error.
func ParseAll(exprs []string) ([]Gate, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	gates := make([]Gate, 0, len(exprs))
	var errs []string
	for i, s := range exprs {
		g, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("gate[%d]: %v", i, err))
			continue
		}
		gates = append(gates, g)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("gate parsing errors: %s", strings.Join(errs, "; "))
	}
	return gates, nil
}

func nonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func extractValue(g Gate, stats metrics.Stats) (float64, error) {
	switch g.Metric {
	case "success_rate":
		if stats.Total == 0 {
			return 0, nil
		}
		switch g.Qualifier {
		case "full":
			return float64(stats.FullSuccess) / float64(stats.Total), nil
		case "partial":
			return float64(stats.PartialSuccess) / float64(stats.Total), nil
		default:
			return float64(stats.FullSuccess+stats.PartialSuccess) / float64(stats.Total), nil
		}
	case "error_rate":
		if stats.Total == 0 {
			return 0, nil
		}
		return float64(stats.Failure) / float64(stats.Total), nil
	case "sessions":
		if g.Qualifier == "rate" {
			return stats.SessionsPerSec, nil
		}
		return float64(stats.Total), nil
	case "latency_ms":
		return extractLatency(g.Qualifier, stats)
	case "limiter_wait_ms":
		return stats.MeanLimiterWaitMs, nil
	case "tokens":
		if g.Qualifier == "output" {
			return float64(stats.OutputTokens), nil
		}
		return float64(stats.InputTokens), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", g.Metric)
	}
}

func extractLatency(qualifier string, stats metrics.Stats) (float64, error) {
	switch qualifier {
	case "p50":
		return stats.P50DurationMs, nil
	case "p90":
		return stats.P90DurationMs, nil
	case "p95":
		// Approximated from the two tracked neighbors.
		return (stats.P90DurationMs + stats.P99DurationMs) / 2, nil
	case "p99":
		return stats.P99DurationMs, nil
	case "avg", "mean":
		return stats.MeanDurationMs, nil
	case "min":
		return stats.MinDurationMs, nil
	case "max":
		return stats.MaxDurationMs, nil
	default:
		return 0, fmt.Errorf("unsupported qualifier %q for latency_ms", qualifier)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Floating point comparison with a small epsilon on the inclusive ops.
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
