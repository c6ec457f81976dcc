package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/gauntlet/internal/auth"
	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/dashboard"
	"github.com/torosent/gauntlet/internal/extract"
	"github.com/torosent/gauntlet/internal/failover"
	"github.com/torosent/gauntlet/internal/metrics"
	"github.com/torosent/gauntlet/internal/modelclient"
	"github.com/torosent/gauntlet/internal/output"
	"github.com/torosent/gauntlet/internal/partition"
	"github.com/torosent/gauntlet/internal/ratelimit"
	"github.com/torosent/gauntlet/internal/runner"
	"github.com/torosent/gauntlet/internal/session"
	"github.com/torosent/gauntlet/internal/tasklib"
	"github.com/torosent/gauntlet/internal/toolsim"
	"github.com/torosent/gauntlet/internal/tracing"
)

// runShard executes one shard descriptor in this process. Every child
// re-exec lands here; the mode also works standalone against a
// hand-written descriptor.
func runShard(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, provider *tracing.Provider, logger *slog.Logger) error {
	shard, err := partition.ReadShardFile(cfg.ShardFile)
	if err != nil {
		return err
	}
	ep, ok := cfg.EndpointByName(shard.Endpoint)
	if !ok {
		return fmt.Errorf("shard %s names unknown endpoint %q", shard.ID, shard.Endpoint)
	}
	logger = logger.With("run", shard.RunID, "shard", shard.ID)

	registry, err := auth.NewRegistry(cfg.Credentials)
	if err != nil {
		return err
	}
	defer registry.Close()

	caller := modelclient.NewCaller(ep, registry, modelclient.Options{
		APITimeout: cfg.Session.APITimeout,
		Retries:    cfg.Session.TransportRetries,
		RetryBase:  cfg.Session.RetryBaseDelay,
		RetryMax:   cfg.Session.RetryMaxDelay,
	}, logger)
	defer caller.Close()

	var modelCaller session.ModelCaller = caller
	if provider.ShouldPropagate() {
		modelCaller = &tracedCaller{caller: caller, tracer: provider.Tracer()}
	}

	limiter := ratelimit.NewStore(cfg.Limiter, logger).For(shard.Mode, ratelimit.Key{
		Endpoint:   shard.Endpoint,
		Credential: shard.Credential,
	}, shard.QPS)

	manager := failover.NewManager(ep.Deployments, logger)

	tasks, err := tasklib.New(cfg.Tasks)
	if err != nil {
		return err
	}
	var params tasklib.ParamFeed
	if cfg.Tasks.ParamsFile != "" {
		params, err = tasklib.NewParamFeed(cfg.Tasks.ParamsFile)
		if err != nil {
			return err
		}
		defer params.Close()
	}

	sink := collector.New(cfg.Collector, shard.RunID, shard.ID, logger)
	live := metrics.NewCollector()

	r, err := runner.New(runner.Options{
		Shard:         *shard,
		Endpoint:      ep,
		Model:         cfg.Request.Model,
		Difficulty:    cfg.Request.Difficulty,
		Reliability:   cfg.Request.ToolReliability,
		Session:       cfg.Session,
		Stagger:       cfg.Runner.Stagger,
		LaunchRate:    cfg.Runner.LaunchRate,
		ShardDeadline: cfg.Runner.ShardDeadline,
		Caller:        modelCaller,
		Limiter:       limiter,
		Failover:      manager,
		Executor:      toolsim.NewSimulated(time.Now().UnixNano()),
		Tasks:         tasks,
		Params:        params,
		Sink:          sink,
		Metrics:       live,
		Logger:        logger,
	})
	if err != nil {
		sink.Close()
		return err
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard && !cfg.JSONOutput {
		dash, err = dashboard.New(live, dashboard.RunConfig{
			RunID:      shard.RunID,
			ShardID:    shard.ID,
			Model:      cfg.Request.Model,
			Endpoint:   shard.Endpoint,
			Workers:    shard.Workers,
			Planned:    shard.Instances(),
			QPS:        shard.QPS,
			MaxTurns:   cfg.Session.MaxTurns,
			WallClock:  cfg.Session.WallClock,
			ConfigFile: cfg.ConfigFile,
		}, cancel)
		if err != nil {
			sink.Close()
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(live, int64(shard.Instances()), progressInterval, os.Stdout)
		progress.Start()
	}

	shardCtx, span := tracing.StartStageSpan(ctx, provider.Tracer(), "shard run",
		attribute.String("gauntlet.run_id", shard.RunID),
		attribute.String("gauntlet.shard", shard.ID),
	)

	start := time.Now()
	sum := r.Run(shardCtx)
	// Flush before reporting so every counted result is durable.
	closeErr := sink.Close()
	tracing.EndSpan(span, closeErr, attribute.Int64("gauntlet.completed", sum.Completed))

	if progress != nil {
		progress.Stop()
		fmt.Fprintln(os.Stdout)
	}
	if dash != nil {
		dash.Stop()
	}

	stats := live.Stats(time.Since(start))
	completion := output.Completion{
		Planned:     sum.Planned,
		Launched:    sum.Launched,
		Completed:   sum.Completed,
		FatalStatus: sum.FatalStatus,
	}

	if cfg.JSONOutput {
		if err := output.PrintJSON(os.Stdout, output.Summary{
			RunID:      shard.RunID,
			ShardID:    shard.ID,
			Model:      cfg.Request.Model,
			Completion: completion,
			Stats:      stats,
		}); err != nil {
			return err
		}
	} else {
		output.PrintSummary(os.Stdout, completion, stats)
	}

	if closeErr != nil {
		return fmt.Errorf("flush results: %w", closeErr)
	}
	if sum.FatalStatus != "" {
		return fmt.Errorf("shard %s aborted: %s", shard.ID, sum.FatalStatus)
	}
	return nil
}

// tracedCaller wraps the model caller with one client span per call.
type tracedCaller struct {
	caller session.ModelCaller
	tracer trace.Tracer
}

func (t *tracedCaller) Call(ctx context.Context, dep config.Deployment, req *modelclient.Request) (*extract.Reply, error) {
	ctx, span := tracing.StartCallSpan(ctx, t.tracer, string(dep.Transport), dep.Name)
	reply, err := t.caller.Call(ctx, dep, req)
	tracing.EndSpan(span, err)
	return reply, err
}
