package runner

import (
	"context"

	"golang.org/x/time/rate"
)

// launchPacer spaces session launches uniformly via a rate.Limiter. A nil
// pacer admits immediately, so callers never branch on whether pacing is
// configured.
type launchPacer struct {
	limiter *rate.Limiter
}

func newLaunchPacer(opt Options) *launchPacer {
	if opt.LaunchRate <= 0 {
		return nil
	}
	return &launchPacer{limiter: opt.LimiterFactory(opt.LaunchRate)}
}

func (p *launchPacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
