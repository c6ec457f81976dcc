package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/metrics"
)

// ProgressReporter displays real-time progress updates on one rewritten
// terminal line.
type ProgressReporter struct {
	collector *metrics.Collector
	planned   int64
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. planned may be zero when the session total is not known up front.
func NewProgressReporter(collector *metrics.Collector, planned int64, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		planned:   planned,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			stats := p.collector.Stats(time.Since(p.start))
			fmt.Fprint(p.writer, progressLine(stats, p.planned))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.Stats, planned int64) string {
	sessions := fmt.Sprintf("%d", stats.Total)
	if planned > 0 {
		sessions = fmt.Sprintf("%d/%d", stats.Total, planned)
	}
	line := fmt.Sprintf("\rSessions: %s | Full: %d | Partial: %d | Failed: %d | %.2f/s",
		sessions, stats.FullSuccess, stats.PartialSuccess, stats.Failure, stats.SessionsPerSec)
	if row, ok := topErrorSnapshot(stats); ok {
		line += fmt.Sprintf(" | Top Error: %s (%d)", row.Status, row.Count)
	}
	return line
}

// topErrorSnapshot returns the most frequent non-completed terminal status.
func topErrorSnapshot(stats metrics.Stats) (metrics.StatusRow, bool) {
	for _, row := range metrics.FlattenStatuses(stats.Statuses) {
		if row.Status != evaluate.StatusCompleted {
			return row, true
		}
	}
	return metrics.StatusRow{}, false
}
