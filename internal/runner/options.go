package runner

import (
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/failover"
	"github.com/torosent/gauntlet/internal/metrics"
	"github.com/torosent/gauntlet/internal/partition"
	"github.com/torosent/gauntlet/internal/ratelimit"
	"github.com/torosent/gauntlet/internal/session"
	"github.com/torosent/gauntlet/internal/tasklib"
	"github.com/torosent/gauntlet/internal/toolsim"
)

// Sink receives every finished session result. *collector.Collector
// satisfies it.
type Sink interface {
	Add(collector.Result)
}

// Options configure a shard runner.
type Options struct {
	Shard    partition.Shard
	Endpoint config.Endpoint

	Model       string
	Difficulty  string
	Reliability float64

	Session config.SessionConfig // per-session budgets, passed through

	Stagger       time.Duration // cold-start window, one random offset per worker
	LaunchRate    float64       // session launches per second (0 means unpaced)
	ShardDeadline time.Duration // hard stop for the whole shard (0 means none)

	Caller     session.ModelCaller // required
	Limiter    ratelimit.Limiter
	Failover   *failover.Manager
	Executor   toolsim.Executor
	Classifier evaluate.Classifier
	Tasks      tasklib.Library
	Params     tasklib.ParamFeed  // optional per-instance parameter records
	Sink       Sink               // required
	Metrics    *metrics.Collector // optional live aggregates
	Logger     *slog.Logger

	RandomSeed     int64                              // stagger offsets; 0 means time-based
	LimiterFactory func(perSec float64) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Shard.Workers <= 0 {
		o.Shard.Workers = 1
	}
	if o.Tasks == nil {
		o.Tasks = tasklib.NewBuiltin()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(perSec float64) *rate.Limiter {
			if perSec <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst rounds up so fractional rates still admit a launch.
			burst := int(math.Ceil(perSec))
			if burst < 1 {
				burst = 1
			}
			return rate.NewLimiter(rate.Limit(perSec), burst)
		}
	}
}
