// Package partition splits a benchmark request into shards, one per
// schedulable slot, according to each endpoint's concurrency class.
// Multi-instance endpoints get one shard per deployment, shared-credential
// endpoints one per credential, and single-tunable endpoints exactly one
// shard with a scaled worker count. Each (variant, task type) instance
// budget is dealt evenly across the shards that own the variant, with the
// remainder rotating so no shard is systematically favored.
package partition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/torosent/gauntlet/internal/config"
)

// Assignment is a block of task instances for one variant and task type.
type Assignment struct {
	Variant  string `yaml:"variant"`
	TaskType string `yaml:"task_type"`
	Count    int    `yaml:"count"`
}

// Shard is an independently schedulable slice of the request bound to one
// endpoint and credential. Deployment, when set, is the preferred first
// target; failover may still move calls off it.
type Shard struct {
	ID             string                 `yaml:"id"`
	RunID          string                 `yaml:"run_id"`
	Endpoint       string                 `yaml:"endpoint"`
	Deployment     string                 `yaml:"deployment,omitempty"`
	Credential     string                 `yaml:"credential,omitempty"`
	Mode           config.ConcurrencyMode `yaml:"mode"`
	QPS            float64                `yaml:"qps,omitempty"`
	Workers        int                    `yaml:"workers"`
	VariantWorkers int                    `yaml:"variant_workers,omitempty"`
	Assignments    []Assignment           `yaml:"assignments"`
}

// Instances reports the shard's total task-instance count.
func (s *Shard) Instances() int {
	n := 0
	for _, a := range s.Assignments {
		n += a.Count
	}
	return n
}

// Variants lists the distinct prompt variants the shard covers, in
// assignment order.
func (s *Shard) Variants() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.Assignments {
		if !seen[a.Variant] {
			seen[a.Variant] = true
			out = append(out, a.Variant)
		}
	}
	return out
}

// Plan is the full partition of one benchmark request.
type Plan struct {
	RunID  string  `yaml:"run_id"`
	Model  string  `yaml:"model"`
	Shards []Shard `yaml:"shards"`
}

// Total reports the instance count across all shards.
func (p *Plan) Total() int {
	n := 0
	for i := range p.Shards {
		n += p.Shards[i].Instances()
	}
	return n
}

// leaf is a shard under construction.
type leaf struct {
	endpoint       config.Endpoint
	deployment     string
	credential     string
	workers        int
	variantWorkers int
	owned          map[string]bool // nil owns every variant
	clampWorkers   bool
	assignments    []Assignment
}

func (l *leaf) owns(variant string) bool {
	return l.owned == nil || l.owned[variant]
}

func (l *leaf) add(variant, taskType string, count int) {
	l.assignments = append(l.assignments, Assignment{Variant: variant, TaskType: taskType, Count: count})
}

func (l *leaf) total() int {
	n := 0
	for _, a := range l.assignments {
		n += a.Count
	}
	return n
}

// Build partitions the request in cfg across its endpoints.
func Build(cfg *config.Config, runID string) (*Plan, error) {
	req := cfg.Request
	leaves := buildLeaves(cfg)
	if len(leaves) == 0 {
		return nil, errors.New("partition: no schedulable endpoint slots")
	}

	cursor := 0
	for _, variant := range req.PromptVariants {
		owners := make([]*leaf, 0, len(leaves))
		for _, lf := range leaves {
			if lf.owns(variant) {
				owners = append(owners, lf)
			}
		}
		if len(owners) == 0 {
			return nil, fmt.Errorf("partition: no endpoint slot owns variant %q", variant)
		}
		for _, taskType := range req.TaskTypes {
			deal(owners, variant, taskType, req.Instances, &cursor)
		}
	}

	plan := &Plan{RunID: runID, Model: req.Model}
	for _, lf := range leaves {
		total := lf.total()
		if total == 0 {
			continue
		}
		workers := lf.workers
		if lf.clampWorkers && workers > total {
			workers = total
		}
		plan.Shards = append(plan.Shards, Shard{
			ID:             fmt.Sprintf("shard-%02d", len(plan.Shards)),
			RunID:          runID,
			Endpoint:       lf.endpoint.Name,
			Deployment:     lf.deployment,
			Credential:     lf.credential,
			Mode:           req.Mode,
			QPS:            lf.endpoint.QPS,
			Workers:        workers,
			VariantWorkers: lf.variantWorkers,
			Assignments:    lf.assignments,
		})
	}
	if len(plan.Shards) == 0 {
		return nil, errors.New("partition: request produced no work")
	}
	return plan, nil
}

// deal splits count instances of one (variant, task type) pair across the
// owning leaves. The remainder starts at a rotating cursor so successive
// deals favor different leaves.
func deal(owners []*leaf, variant, taskType string, count int, cursor *int) {
	base := count / len(owners)
	rem := count % len(owners)
	start := *cursor % len(owners)
	for i, lf := range owners {
		c := base
		if rem > 0 {
			pos := (i - start + len(owners)) % len(owners)
			if pos < rem {
				c++
			}
		}
		if c > 0 {
			lf.add(variant, taskType, c)
		}
	}
	*cursor += rem
}

func buildLeaves(cfg *config.Config) []*leaf {
	req := cfg.Request
	var leaves []*leaf
	for _, ep := range cfg.Endpoints {
		switch ep.Class {
		case config.ClassMultiInstance:
			workers := ep.Workers
			variantWorkers := 0
			if len(req.PromptVariants) > 1 {
				// Dedicated sub-pool per variant on high-quota endpoints.
				variantWorkers = ep.Workers
				workers = ep.Workers * len(req.PromptVariants)
			}
			for i, d := range ep.Deployments {
				leaves = append(leaves, &leaf{
					endpoint:       ep,
					deployment:     d.Name,
					credential:     deploymentCredential(ep, d, i),
					workers:        workers,
					variantWorkers: variantWorkers,
				})
			}

		case config.ClassSharedCredential:
			creds := ep.Credentials
			if len(creds) == 0 {
				creds = []string{""}
			}
			owned := variantOwnership(req.PromptVariants, len(creds))
			for i, cred := range creds {
				if owned != nil && len(owned[i]) == 0 {
					continue
				}
				lf := &leaf{
					endpoint:   ep,
					credential: cred,
					workers:    ep.Workers,
				}
				if owned != nil {
					lf.owned = owned[i]
				}
				leaves = append(leaves, lf)
			}

		case config.ClassSingleTunable:
			workers := ep.Workers
			if req.WorkerOverride > 0 {
				workers = req.WorkerOverride
			}
			lf := &leaf{
				endpoint:     ep,
				workers:      workers,
				clampWorkers: true,
			}
			if len(ep.Credentials) > 0 {
				lf.credential = ep.Credentials[0]
			} else if len(ep.Deployments) > 0 {
				lf.credential = ep.Deployments[0].Credential
			}
			leaves = append(leaves, lf)
		}
	}
	return leaves
}

// variantOwnership deals variants round-robin across n credentials so one
// credential never carries every variant's load. Returns nil when a
// single variant (or credential) makes ownership moot.
func variantOwnership(variants []string, n int) []map[string]bool {
	if len(variants) < 2 || n < 2 {
		return nil
	}
	owned := make([]map[string]bool, n)
	for i, v := range variants {
		slot := i % n
		if owned[slot] == nil {
			owned[slot] = make(map[string]bool)
		}
		owned[slot][v] = true
	}
	return owned
}

func deploymentCredential(ep config.Endpoint, d config.Deployment, i int) string {
	if d.Credential != "" {
		return d.Credential
	}
	if len(ep.Credentials) > 0 {
		return ep.Credentials[i%len(ep.Credentials)]
	}
	return ""
}

// Summary renders a short per-endpoint breakdown for logs and the
// print-plan mode.
func (p *Plan) Summary() []string {
	perEndpoint := make(map[string]int)
	for i := range p.Shards {
		perEndpoint[p.Shards[i].Endpoint] += p.Shards[i].Instances()
	}
	names := make([]string, 0, len(perEndpoint))
	for name := range perEndpoint {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, fmt.Sprintf("%s: %d instances", name, perEndpoint[name]))
	}
	return out
}
