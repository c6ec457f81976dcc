// Package runner executes one shard of a benchmark plan.
//
// A shard arrives from the partitioner with a worker budget and a list of
// (variant, task type) assignments. The runner expands the assignments into
// individual session launches and drives them through a bounded pool:
//   - A scheduler goroutine releases launches one at a time, optionally
//     paced by a uniform session-launch limiter.
//   - Worker goroutines pull launches, render the task prompt, run one
//     protocol session to its terminal state, and hand the result to the
//     sink. A failed session never aborts the shard.
//   - When the shard carries variant sub-pools, workers are assigned
//     variants round-robin and each sub-pool only receives its own
//     variant's launches.
//
// Two shard-level stop conditions exist on top of the per-session budgets:
// a hard deadline after which in-flight sessions are abandoned as shard
// timeouts, and a shard-fatal terminal status (credential rejection) that
// stops new launches because retrying with the same credential cannot
// succeed.
//
// # Basic Usage
//
//	r, err := runner.New(runner.Options{
//		Shard:    shard,
//		Endpoint: endpoint,
//		Model:    cfg.Request.Model,
//		Caller:   caller,
//		Limiter:  limiter,
//		Failover: manager,
//		Sink:     col,
//	})
//	if err != nil {
//		return err
//	}
//	summary := r.Run(ctx)
//
// An optional cold-start stagger spreads the first launch of each worker
// over a configured window so a shard does not slam its endpoint with
// worker-count simultaneous requests at t=0.
package runner
