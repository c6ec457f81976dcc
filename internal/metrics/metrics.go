// Package metrics records live in-process aggregates for one run:
// session durations in an HDR histogram plus success-level and terminal
// status counts. These feed the progress line, the dashboard and the
// end-of-run summary; the durable cross-process statistics live in the
// merger's store, not here.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/evaluate"
)

// Collector aggregates finished sessions in a thread-safe manner.
type Collector struct {
	mu          sync.Mutex
	hist        *hdrhistogram.Histogram
	full        int64
	partial     int64
	failed      int64
	minDuration time.Duration
	maxDuration time.Duration
	sumDuration time.Duration
	limiterWait time.Duration
	inTokens    int64
	outTokens   int64
	byStatus    map[string]int64
}

// Stats is one aggregated snapshot.
type Stats struct {
	Total          int64   `json:"total"`
	FullSuccess    int64   `json:"full_success"`
	PartialSuccess int64   `json:"partial_success"`
	Failure        int64   `json:"failure"`
	SessionsPerSec float64 `json:"sessions_per_sec"`

	MinDurationMs  float64 `json:"min_duration_ms"`
	MaxDurationMs  float64 `json:"max_duration_ms"`
	MeanDurationMs float64 `json:"mean_duration_ms"`
	P50DurationMs  float64 `json:"p50_duration_ms"`
	P90DurationMs  float64 `json:"p90_duration_ms"`
	P99DurationMs  float64 `json:"p99_duration_ms"`

	MeanLimiterWaitMs float64 `json:"mean_limiter_wait_ms"`
	InputTokens       int64   `json:"input_tokens"`
	OutputTokens      int64   `json:"output_tokens"`
	ElapsedMs         float64 `json:"elapsed_ms"`

	Statuses map[string]int `json:"statuses,omitempty"`
}

// NewCollector returns an empty collector. Durations are tracked from 1ms
// up to 30 minutes with 3 significant figures; sessions run far longer
// than single requests.
func NewCollector() *Collector {
	return &Collector{
		hist:     hdrhistogram.New(1, 1_800_000, 3),
		byStatus: make(map[string]int64),
	}
}

// RecordSession folds one finished session into the live aggregates.
func (c *Collector) RecordSession(res collector.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := time.Duration(res.DurationMS) * time.Millisecond
	if res.DurationMS > 0 {
		ms := res.DurationMS
		if ms < c.hist.LowestTrackableValue() {
			ms = c.hist.LowestTrackableValue()
		}
		if ms > c.hist.HighestTrackableValue() {
			ms = c.hist.HighestTrackableValue()
		}
		_ = c.hist.RecordValue(ms)
	}
	c.sumDuration += duration
	if c.minDuration == 0 || duration < c.minDuration {
		c.minDuration = duration
	}
	if duration > c.maxDuration {
		c.maxDuration = duration
	}

	c.limiterWait += time.Duration(res.LimiterWaitMS) * time.Millisecond
	c.inTokens += int64(res.InputTokens)
	c.outTokens += int64(res.OutputTokens)

	switch res.Success {
	case evaluate.FullSuccess:
		c.full++
	case evaluate.PartialSuccess:
		c.partial++
	default:
		c.failed++
	}
	c.byStatus[res.Status]++
}

// Stats computes the current aggregates over the given elapsed run time.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.full + c.partial + c.failed
	stats := Stats{
		Total:          total,
		FullSuccess:    c.full,
		PartialSuccess: c.partial,
		Failure:        c.failed,
		InputTokens:    c.inTokens,
		OutputTokens:   c.outTokens,
	}

	stats.MinDurationMs = float64(c.minDuration) / float64(time.Millisecond)
	stats.MaxDurationMs = float64(c.maxDuration) / float64(time.Millisecond)
	if total > 0 {
		stats.MeanDurationMs = float64(c.sumDuration) / float64(time.Millisecond) / float64(total)
		stats.MeanLimiterWaitMs = float64(c.limiterWait) / float64(time.Millisecond) / float64(total)
	}
	if c.hist.TotalCount() > 0 {
		stats.P50DurationMs = float64(c.hist.ValueAtQuantile(50))
		stats.P90DurationMs = float64(c.hist.ValueAtQuantile(90))
		stats.P99DurationMs = float64(c.hist.ValueAtQuantile(99))
	}

	stats.ElapsedMs = float64(elapsed) / float64(time.Millisecond)
	if elapsed > 0 && total > 0 {
		stats.SessionsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.byStatus) > 0 {
		stats.Statuses = make(map[string]int, len(c.byStatus))
		for status, n := range c.byStatus {
			stats.Statuses[status] = int(n)
		}
	}
	return stats
}

// StatusRow is one terminal status with its count.
type StatusRow struct {
	Status string
	Count  int
}

// FlattenStatuses converts a status count map into rows sorted by
// descending count, then by status name for stability.
func FlattenStatuses(statuses map[string]int) []StatusRow {
	if len(statuses) == 0 {
		return nil
	}
	rows := make([]StatusRow, 0, len(statuses))
	for status, count := range statuses {
		rows = append(rows, StatusRow{Status: status, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Status < rows[j].Status
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
