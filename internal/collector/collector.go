// Package collector buffers finished results in process memory and flushes
// them to durable artifact files. Flushes fire on any of three triggers:
// the buffer reaching its size threshold, a periodic interval, or shutdown.
// The interval and shutdown triggers exist because a short shard may never
// fill the buffer, and a size-only policy would lose everything on crash.
package collector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/torosent/gauntlet/internal/config"
)

const (
	defaultFlushSize     = 20
	defaultFlushInterval = 30 * time.Second
)

// Collector owns one process's append-only result buffer.
type Collector struct {
	dir      string
	runID    string
	shardID  string
	size     int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Result
	added   int
	flushed int
	closed  bool

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New starts a collector writing artifacts into cfg.Dir. The interval
// flusher runs until Close.
func New(cfg config.CollectorConfig, runID, shardID string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.FlushSize
	if size <= 0 {
		size = defaultFlushSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	c := &Collector{
		dir:      cfg.Dir,
		runID:    runID,
		shardID:  shardID,
		size:     size,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.flushLoop()
	return c
}

// Add appends one result. Reaching the size threshold flushes
// synchronously so the buffer never grows past it.
func (c *Collector) Add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Warn("result dropped after collector close", "session", r.SessionID)
		return
	}
	c.pending = append(c.pending, r)
	c.added++
	if len(c.pending) >= c.size {
		if err := c.flushLocked(); err != nil {
			c.logger.Error("size-triggered flush failed", "error", err)
		}
	}
}

// Flush writes all pending results to a new artifact.
func (c *Collector) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Close flushes the remaining buffer and stops the interval flusher. Safe
// to call more than once.
func (c *Collector) Close() error {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.flushLocked()
	c.closed = true
	return err
}

// Counts reports results added and results made durable so far.
func (c *Collector) Counts() (added, flushed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.added, c.flushed
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Flush(); err != nil {
				c.logger.Error("interval flush failed", "error", err)
			}
		case <-c.done:
			return
		}
	}
}

func (c *Collector) flushLocked() error {
	if len(c.pending) == 0 {
		return nil
	}
	artifact := &Artifact{
		RunID:     c.runID,
		ShardID:   c.shardID,
		WrittenAt: time.Now().UTC(),
		Results:   c.pending,
	}
	name, err := WriteArtifact(c.dir, artifact)
	if err != nil {
		return fmt.Errorf("flush %d results: %w", len(c.pending), err)
	}
	c.flushed += len(c.pending)
	c.logger.Debug("flushed results",
		"artifact", name,
		"results", len(c.pending),
		"total_flushed", c.flushed,
	)
	c.pending = c.pending[:0:0]
	return nil
}
