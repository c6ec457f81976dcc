package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/merge"
	"github.com/torosent/gauntlet/internal/output"
	"github.com/torosent/gauntlet/internal/partition"
	"github.com/torosent/gauntlet/internal/tracing"
)

const progressInterval = time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	// The merger loop only touches artifacts and the store; a bare
	// --merge-only must not require endpoints or a request shape.
	if !cfg.MergeOnly {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.LogLevel)

	if cfg.PrintPlan {
		return printPlan(os.Stdout, cfg)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())

	switch {
	case cfg.MergeOnly:
		return runMergeOnly(ctx, cfg, logger)
	case cfg.ShardFile != "":
		return runShard(ctx, cancel, cfg, provider, logger)
	default:
		return runBenchmark(ctx, cancel, cfg, provider, logger, args)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// printPlan partitions the request and renders the shard layout without
// running anything.
func printPlan(w io.Writer, cfg *config.Config) error {
	plan, err := partition.Build(cfg, ulid.Make().String())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Model %s: %d instances across %d shards\n", plan.Model, plan.Total(), len(plan.Shards))
	for _, line := range plan.Summary() {
		fmt.Fprintf(w, "  %s\n", line)
	}
	for i := range plan.Shards {
		s := &plan.Shards[i]
		fmt.Fprintf(w, "%s: endpoint=%s", s.ID, s.Endpoint)
		if s.Deployment != "" {
			fmt.Fprintf(w, " deployment=%s", s.Deployment)
		}
		if s.Credential != "" {
			fmt.Fprintf(w, " credential=%s", s.Credential)
		}
		fmt.Fprintf(w, " mode=%s workers=%d instances=%d", s.Mode, s.Workers, s.Instances())
		if s.QPS > 0 {
			fmt.Fprintf(w, " qps=%g", s.QPS)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// runMergeOnly holds the shared store until interrupted, folding artifacts
// flushed by shard processes running elsewhere.
func runMergeOnly(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	merger := merge.New(cfg.Merger, cfg.Collector.Dir, logger)
	if err := merger.Open(); err != nil {
		return err
	}
	defer merger.Close()

	logger.Info("merger running", "store", cfg.Merger.StorePath, "artifacts", cfg.Collector.Dir)
	if err := merger.Run(ctx); err != nil {
		return err
	}

	if cfg.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(merger.Store())
	}
	output.PrintBreakdown(os.Stdout, merger.Store())
	return nil
}
