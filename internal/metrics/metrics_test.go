package metrics_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/metrics"
)

func session(durationMS int64, success, status string) collector.Result {
	return collector.Result{
		Success:       success,
		Status:        status,
		DurationMS:    durationMS,
		LimiterWaitMS: 10,
		InputTokens:   100,
		OutputTokens:  40,
	}
}

func TestCollectorDurationStats(t *testing.T) {
	c := metrics.NewCollector()

	c.RecordSession(session(1000, evaluate.FullSuccess, evaluate.StatusCompleted))
	c.RecordSession(session(2000, evaluate.FullSuccess, evaluate.StatusCompleted))
	c.RecordSession(session(3000, evaluate.PartialSuccess, evaluate.StatusCompleted))
	c.RecordSession(session(4000, evaluate.Failure, evaluate.StatusAPITimeout))

	stats := c.Stats(0)

	if stats.Total != 4 {
		t.Errorf("expected total 4, got %d", stats.Total)
	}
	if stats.FullSuccess != 2 || stats.PartialSuccess != 1 || stats.Failure != 1 {
		t.Errorf("level counts = %d/%d/%d, want 2/1/1", stats.FullSuccess, stats.PartialSuccess, stats.Failure)
	}
	if stats.MinDurationMs != 1000 {
		t.Errorf("expected min 1000ms, got %v", stats.MinDurationMs)
	}
	if stats.MaxDurationMs != 4000 {
		t.Errorf("expected max 4000ms, got %v", stats.MaxDurationMs)
	}
	if stats.MeanDurationMs != 2500 {
		t.Errorf("expected mean 2500ms, got %v", stats.MeanDurationMs)
	}
	if stats.MeanLimiterWaitMs != 10 {
		t.Errorf("expected mean limiter wait 10ms, got %v", stats.MeanLimiterWaitMs)
	}
	if stats.InputTokens != 400 || stats.OutputTokens != 160 {
		t.Errorf("tokens = %d/%d, want 400/160", stats.InputTokens, stats.OutputTokens)
	}
	if stats.Statuses[evaluate.StatusAPITimeout] != 1 {
		t.Errorf("statuses = %v", stats.Statuses)
	}
}

func TestPercentileCalculations(t *testing.T) {
	c := metrics.NewCollector()

	// 100 samples: 100ms, 200ms, ..., 10000ms.
	for i := 1; i <= 100; i++ {
		c.RecordSession(session(int64(i)*100, evaluate.FullSuccess, evaluate.StatusCompleted))
	}

	stats := c.Stats(0)

	if stats.P50DurationMs < 4900 || stats.P50DurationMs > 5150 {
		t.Errorf("expected P50 ~5000ms, got %v", stats.P50DurationMs)
	}
	if stats.P90DurationMs < 8900 || stats.P90DurationMs > 9100 {
		t.Errorf("expected P90 ~9000ms, got %v", stats.P90DurationMs)
	}
	if stats.P99DurationMs < 9800 || stats.P99DurationMs > 10050 {
		t.Errorf("expected P99 ~9900ms, got %v", stats.P99DurationMs)
	}
}

func TestSessionsPerSec(t *testing.T) {
	c := metrics.NewCollector()
	for i := 0; i < 4; i++ {
		c.RecordSession(session(500, evaluate.FullSuccess, evaluate.StatusCompleted))
	}

	stats := c.Stats(2 * time.Second)
	if stats.SessionsPerSec != 2 {
		t.Errorf("expected 2 sessions/sec, got %v", stats.SessionsPerSec)
	}
}

func TestEmptyCollectorStats(t *testing.T) {
	stats := metrics.NewCollector().Stats(time.Second)

	if stats.Total != 0 || stats.SessionsPerSec != 0 {
		t.Errorf("empty stats = %+v", stats)
	}
	if stats.MeanDurationMs != 0 || stats.P50DurationMs != 0 {
		t.Errorf("empty durations = %+v", stats)
	}
	if stats.Statuses != nil {
		t.Errorf("expected nil statuses, got %v", stats.Statuses)
	}
}

func TestOutOfRangeDurationsClamped(t *testing.T) {
	c := metrics.NewCollector()
	// Above the 30 minute tracking ceiling.
	c.RecordSession(session(10*60*60*1000, evaluate.Failure, evaluate.StatusSessionTimeout))

	stats := c.Stats(0)
	if stats.Total != 1 {
		t.Fatalf("total = %d", stats.Total)
	}
	if stats.P99DurationMs > 1_810_000 {
		t.Errorf("histogram not clamped: P99 = %v", stats.P99DurationMs)
	}
	if stats.MaxDurationMs != 36_000_000 {
		t.Errorf("raw max should keep the true value, got %v", stats.MaxDurationMs)
	}
}

func TestConcurrentRecording(t *testing.T) {
	c := metrics.NewCollector()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.RecordSession(session(1000, evaluate.FullSuccess, evaluate.StatusCompleted))
			}
		}()
	}
	wg.Wait()

	if stats := c.Stats(0); stats.Total != 400 {
		t.Errorf("total = %d, want 400", stats.Total)
	}
}

func TestStatsJSONSchema(t *testing.T) {
	c := metrics.NewCollector()
	c.RecordSession(session(1500, evaluate.Failure, evaluate.StatusTransportFailure))

	data, err := json.Marshal(c.Stats(100 * time.Millisecond))
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	for _, key := range []string{"total", "failure", "p99_duration_ms", "sessions_per_sec", "statuses"} {
		if !jsonHasKey(data, key) {
			t.Errorf("stats JSON missing %q: %s", key, data)
		}
	}
}

func jsonHasKey(data []byte, key string) bool {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func TestFlattenStatuses(t *testing.T) {
	rows := metrics.FlattenStatuses(map[string]int{
		"completed":   7,
		"api_timeout": 2,
		"stuck":       2,
	})
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Status != "completed" || rows[0].Count != 7 {
		t.Errorf("first row = %+v", rows[0])
	}
	// Equal counts break ties alphabetically.
	if rows[1].Status != "api_timeout" || rows[2].Status != "stuck" {
		t.Errorf("tie order = %+v, %+v", rows[1], rows[2])
	}

	if metrics.FlattenStatuses(nil) != nil {
		t.Error("expected nil for empty input")
	}
}
