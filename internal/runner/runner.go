package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/session"
	"github.com/torosent/gauntlet/internal/tasklib"
)

// Summary captures one shard execution.
type Summary struct {
	Planned     int64
	Launched    int64
	Completed   int64
	FullSuccess int64
	Partial     int64
	Failed      int64
	FatalStatus string // non-empty when a shard-fatal status stopped new launches
	Duration    time.Duration
}

// launch is one session slot. The sequence number keys deterministic
// per-instance record ids.
type launch struct {
	seq      int
	variant  string
	taskType string
	pool     int
}

// Runner drives one shard to completion.
type Runner struct {
	opt     Options
	tasks   map[string]*tasklib.Task
	order   []launch
	pools   int
	offsets []time.Duration
	pacer   *launchPacer
}

// New resolves the shard's task definitions and lays out its worker pools.
// Resolution failures surface here, before any session is launched.
func New(opt Options) (*Runner, error) {
	opt.normalize()
	if opt.Caller == nil {
		return nil, errors.New("runner: model caller is required")
	}
	if opt.Sink == nil {
		return nil, errors.New("runner: result sink is required")
	}

	tasks := make(map[string]*tasklib.Task)
	for _, a := range opt.Shard.Assignments {
		if _, ok := tasks[a.TaskType]; ok {
			continue
		}
		task, err := opt.Tasks.Task(a.TaskType, opt.Difficulty)
		if err != nil {
			return nil, fmt.Errorf("runner: resolve task %q: %w", a.TaskType, err)
		}
		tasks[a.TaskType] = task
	}

	variants := opt.Shard.Variants()
	pools := 1
	poolOf := map[string]int{}
	if opt.Shard.VariantWorkers > 0 && len(variants) > 1 {
		pools = len(variants)
		for i, v := range variants {
			poolOf[v] = i
		}
		// Every variant sub-pool needs at least one worker or its queue
		// would never drain.
		if opt.Shard.Workers < pools {
			opt.Shard.Workers = pools
		}
	}

	perPool := make([][]launch, pools)
	for _, a := range opt.Shard.Assignments {
		p := poolOf[a.Variant]
		for i := 0; i < a.Count; i++ {
			perPool[p] = append(perPool[p], launch{variant: a.Variant, taskType: a.TaskType, pool: p})
		}
	}

	// Interleave round-robin across sub-pools so they fill evenly; within a
	// pool, assignment order is kept.
	var order []launch
	for idx := 0; ; idx++ {
		progressed := false
		for p := range perPool {
			if idx < len(perPool[p]) {
				l := perPool[p][idx]
				l.seq = len(order)
				order = append(order, l)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	offsets := make([]time.Duration, opt.Shard.Workers)
	if opt.Stagger > 0 {
		rng := rand.New(rand.NewSource(opt.RandomSeed))
		for i := range offsets {
			offsets[i] = time.Duration(rng.Int63n(int64(opt.Stagger)))
		}
	}

	return &Runner{
		opt:     opt,
		tasks:   tasks,
		order:   order,
		pools:   pools,
		offsets: offsets,
		pacer:   newLaunchPacer(opt),
	}, nil
}

// Run executes the shard and blocks until every worker has drained.
// Cancelling ctx, or hitting the shard deadline, stops new launches and
// abandons in-flight sessions; each still emits its result.
func (r *Runner) Run(ctx context.Context) Summary {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.opt.ShardDeadline > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.ShardDeadline)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	workers := r.opt.Shard.Workers
	r.opt.Logger.Info("shard starting",
		"shard", r.opt.Shard.ID,
		"endpoint", r.opt.Endpoint.Name,
		"workers", workers,
		"pools", r.pools,
		"instances", len(r.order))

	queues := make([]chan launch, r.pools)
	for p := range queues {
		queues[p] = make(chan launch, r.poolWorkers(p))
	}

	var launched, completed, full, partial, failed int64
	var fatalOnce sync.Once
	var fatalStatus string
	stop := func(status string) {
		fatalOnce.Do(func() {
			fatalStatus = status
			cancel()
		})
	}

	// Scheduler: serializes launch pacing so concurrent workers cannot
	// overshoot the configured launch rate.
	go func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for _, l := range r.order {
			if ctx.Err() != nil {
				return
			}
			if err := r.pacer.Wait(ctx); err != nil {
				return
			}
			select {
			case queues[l.pool] <- l:
				atomic.AddInt64(&launched, 1)
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		q := queues[i%r.pools]
		offset := r.offsets[i]
		go func() {
			defer wg.Done()
			if offset > 0 {
				timer := time.NewTimer(offset)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
			for l := range q {
				res := r.runSession(ctx, l)
				r.opt.Sink.Add(res)
				if r.opt.Metrics != nil {
					r.opt.Metrics.RecordSession(res)
				}
				atomic.AddInt64(&completed, 1)
				switch res.Success {
				case evaluate.FullSuccess:
					atomic.AddInt64(&full, 1)
				case evaluate.PartialSuccess:
					atomic.AddInt64(&partial, 1)
				default:
					atomic.AddInt64(&failed, 1)
				}
				if session.IsShardFatal(res.Status) {
					r.opt.Logger.Warn("shard-fatal session status, stopping new launches",
						"shard", r.opt.Shard.ID, "status", res.Status)
					stop(res.Status)
				}
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	summary := Summary{
		Planned:     int64(len(r.order)),
		Launched:    atomic.LoadInt64(&launched),
		Completed:   atomic.LoadInt64(&completed),
		FullSuccess: atomic.LoadInt64(&full),
		Partial:     atomic.LoadInt64(&partial),
		Failed:      atomic.LoadInt64(&failed),
		FatalStatus: fatalStatus,
		Duration:    time.Since(start),
	}
	r.opt.Logger.Info("shard finished",
		"shard", r.opt.Shard.ID,
		"planned", summary.Planned,
		"completed", summary.Completed,
		"full", summary.FullSuccess,
		"partial", summary.Partial,
		"failed", summary.Failed,
		"duration", summary.Duration)
	return summary
}

// poolWorkers reports how many workers round-robin assignment gives pool p.
func (r *Runner) poolWorkers(p int) int {
	n := r.opt.Shard.Workers / r.pools
	if p < r.opt.Shard.Workers%r.pools {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (r *Runner) runSession(ctx context.Context, l launch) collector.Result {
	task := r.tasks[l.taskType]

	record := tasklib.Record{
		"run_id":    r.opt.Shard.RunID,
		"record_id": fmt.Sprintf("%s-%04d", r.opt.Shard.ID, l.seq),
		"task_type": l.taskType,
		"variant":   l.variant,
	}
	if r.opt.Params != nil {
		if row, err := r.opt.Params.Next(ctx); err == nil {
			record = tasklib.Instance(row, record)
		} else {
			r.opt.Logger.Warn("parameter feed read failed", "shard", r.opt.Shard.ID, "error", err)
		}
	}
	prompt := tasklib.Render(task.Prompt, record)

	s := session.New(session.Params{
		RunID:       r.opt.Shard.RunID,
		ShardID:     r.opt.Shard.ID,
		Model:       r.opt.Model,
		Variant:     l.variant,
		Endpoint:    r.opt.Endpoint,
		Task:        task,
		Prompt:      prompt,
		Difficulty:  r.opt.Difficulty,
		Reliability: r.opt.Reliability,

		MaxTurns:         r.opt.Session.MaxTurns,
		WallClock:        r.opt.Session.WallClock,
		FormatErrorLimit: r.opt.Session.FormatErrorLimit,
		SearchLimit:      r.opt.Session.SearchLimit,
	}, session.Deps{
		Caller:     r.opt.Caller,
		Limiter:    r.opt.Limiter,
		Failover:   r.opt.Failover,
		Executor:   r.opt.Executor,
		Classifier: r.opt.Classifier,
		Logger:     r.opt.Logger,
	})
	return s.Run(ctx)
}
