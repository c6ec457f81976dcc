package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/dashboard"
	"github.com/torosent/gauntlet/internal/gate"
	"github.com/torosent/gauntlet/internal/merge"
	"github.com/torosent/gauntlet/internal/metrics"
	"github.com/torosent/gauntlet/internal/output"
	"github.com/torosent/gauntlet/internal/partition"
	"github.com/torosent/gauntlet/internal/tracing"
)

// childShutdownGrace is how long an interrupted child may keep flushing
// before it is killed outright.
const childShutdownGrace = 30 * time.Second

// shardOutcome pairs one child's parsed summary with its exit error.
type shardOutcome struct {
	shardID string
	summary *output.Summary
	err     error
}

// runBenchmark is the parent mode: partition the request, re-exec one
// child process per shard, and fold their artifacts while they run. The
// final summary is read back from the merged store, so it survives child
// crashes.
func runBenchmark(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, provider *tracing.Provider, logger *slog.Logger, args []string) error {
	gates, err := gate.ParseAll(cfg.Gates)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	plan, err := partition.Build(cfg, runID)
	if err != nil {
		return err
	}
	planned := int64(plan.Total())
	logger.Info("plan built", "run", runID, "shards", len(plan.Shards), "instances", planned)

	shardDir := filepath.Join(cfg.Collector.Dir, "shards", runID)
	paths := make([]string, len(plan.Shards))
	for i := range plan.Shards {
		path := filepath.Join(shardDir, plan.Shards[i].ID+".yml")
		if err := partition.WriteShardFile(path, &plan.Shards[i]); err != nil {
			return err
		}
		paths[i] = path
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate own binary: %w", err)
	}

	live := metrics.NewCollector()
	merger := merge.New(cfg.Merger, cfg.Collector.Dir, logger)
	merger.Observe(func(res collector.Result) {
		// The store is cumulative; only this run's results feed the
		// live counters.
		if res.RunID == runID {
			live.RecordSession(res)
		}
	})
	if err := merger.Open(); err != nil {
		return err
	}
	defer merger.Close()

	runCtx, span := tracing.StartStageSpan(ctx, provider.Tracer(), "benchmark run",
		attribute.String("gauntlet.run_id", runID),
		attribute.Int("gauntlet.shards", len(plan.Shards)),
	)

	mergeCtx, stopMerge := context.WithCancel(context.Background())
	mergeDone := make(chan error, 1)
	go func() { mergeDone <- merger.Run(mergeCtx) }()

	var dash *dashboard.Dashboard
	if cfg.Dashboard && !cfg.JSONOutput {
		dash, err = dashboard.New(live, dashboard.RunConfig{
			RunID:      runID,
			Model:      plan.Model,
			Endpoint:   endpointLabel(cfg.Endpoints),
			Workers:    totalWorkers(plan),
			Planned:    int(planned),
			MaxTurns:   cfg.Session.MaxTurns,
			WallClock:  cfg.Session.WallClock,
			ConfigFile: cfg.ConfigFile,
		}, cancel)
		if err != nil {
			stopMerge()
			<-mergeDone
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(live, planned, progressInterval, os.Stdout)
		progress.Start()
	}

	start := time.Now()
	outcomes := launchShards(runCtx, exe, args, paths, plan, logger)

	// All children have exited; one final scan folds their last flushes.
	stopMerge()
	mergeErr := <-mergeDone

	if progress != nil {
		progress.Stop()
		fmt.Fprintln(os.Stdout)
	}
	if dash != nil {
		dash.Stop()
	}
	tracing.EndSpan(span, mergeErr)

	stats := live.Stats(time.Since(start))
	completion := completionFrom(planned, stats.Total, outcomes)

	var gateResults []gate.Result
	if len(gates) > 0 {
		gateResults = gate.NewEvaluator(gates).Evaluate(stats)
	}

	if cfg.JSONOutput {
		if err := output.PrintJSON(os.Stdout, output.Summary{
			RunID:      runID,
			Model:      plan.Model,
			Completion: completion,
			Stats:      stats,
			Gates:      gateResults,
			Breakdown:  merger.Store(),
		}); err != nil {
			return err
		}
	} else {
		output.PrintSummary(os.Stdout, completion, stats)
		output.PrintBreakdown(os.Stdout, merger.Store())
		output.PrintGates(os.Stdout, gateResults)
	}

	if mergeErr != nil {
		return fmt.Errorf("final merge: %w", mergeErr)
	}
	if failed := failedShards(outcomes); failed > 0 {
		return fmt.Errorf("%d of %d shards failed", failed, len(outcomes))
	}
	if !gate.AllPassed(gateResults) {
		failed := 0
		for _, r := range gateResults {
			if !r.Pass {
				failed++
			}
		}
		return fmt.Errorf("%d of %d gates failed", failed, len(gateResults))
	}
	return nil
}

// launchShards re-execs one child per descriptor and blocks until all
// exit. Children run with the parent's own flags plus the shard file, in
// JSON mode so their summaries come back over stdout.
func launchShards(ctx context.Context, exe string, args []string, paths []string, plan *partition.Plan, logger *slog.Logger) []shardOutcome {
	outcomes := make([]shardOutcome, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			outcomes[i] = runChild(ctx, exe, childArgs(args, path), plan.Shards[i].ID, logger)
		}(i, path)
	}
	wg.Wait()
	return outcomes
}

func runChild(ctx context.Context, exe string, args []string, shardID string, logger *slog.Logger) shardOutcome {
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = childShutdownGrace

	logger.Debug("launching shard", "shard", shardID)
	out, err := cmd.Output()
	outcome := shardOutcome{shardID: shardID, err: err}

	sum, parseErr := parseChildSummary(out)
	if parseErr == nil {
		outcome.summary = sum
	} else if err == nil {
		outcome.err = fmt.Errorf("unreadable shard summary: %v", parseErr)
	}

	if outcome.err != nil {
		logger.Warn("shard exited with error", "shard", shardID, "error", outcome.err)
	} else {
		logger.Info("shard finished", "shard", shardID,
			"completed", outcome.summary.Completion.Completed,
			"planned", outcome.summary.Completion.Planned)
	}
	return outcome
}

// childArgs rebuilds the argument list for one shard child: the parent's
// own flags, then the descriptor path and forced JSON output. Later flags
// win, so the child cannot end up interactive.
func childArgs(args []string, shardPath string) []string {
	out := make([]string, 0, len(args)+3)
	out = append(out, args...)
	out = append(out, "--shard-file", shardPath, "--json-output=true")
	return out
}

func parseChildSummary(out []byte) (*output.Summary, error) {
	var sum output.Summary
	if err := json.Unmarshal(bytes.TrimSpace(out), &sum); err != nil {
		return nil, err
	}
	if sum.ShardID == "" {
		return nil, errors.New("summary names no shard")
	}
	return &sum, nil
}

// completionFrom blends the two accountings: completed counts come from
// the merged artifacts (the durable truth), launch totals and fatal
// statuses from the child summaries.
func completionFrom(planned, merged int64, outcomes []shardOutcome) output.Completion {
	c := output.Completion{Planned: planned, Completed: merged}
	for _, o := range outcomes {
		if o.summary == nil {
			continue
		}
		c.Launched += o.summary.Completion.Launched
		if c.FatalStatus == "" {
			c.FatalStatus = o.summary.Completion.FatalStatus
		}
	}
	return c
}

func failedShards(outcomes []shardOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.err != nil {
			n++
		}
	}
	return n
}

func endpointLabel(endpoints []config.Endpoint) string {
	if len(endpoints) == 1 {
		return endpoints[0].Name
	}
	return fmt.Sprintf("%d endpoints", len(endpoints))
}

func totalWorkers(plan *partition.Plan) int {
	n := 0
	for i := range plan.Shards {
		n += plan.Shards[i].Workers
	}
	return n
}
