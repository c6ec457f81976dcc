// Package tasklib resolves benchmark task definitions. A task carries the
// instruction prompt, the tool catalog offered to the model, an optional
// precomputed execution plan, and the expectations used for scoring.
// Libraries are pluggable: a directory of YAML task files, or the builtin
// synthetic catalog when no directory is configured.
package tasklib

import (
	"errors"
	"fmt"
	"strings"
)

// Tool describes one callable tool offered to the model.
type Tool struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Parameters  map[string]string `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// PlanStep is one step of a precomputed execution plan.
type PlanStep struct {
	Tool string            `yaml:"tool" json:"tool"`
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Expectation holds the reference data scoring compares against. Order
// falls back to Tools when empty.
type Expectation struct {
	Tools    []string `yaml:"tools" json:"tools"`
	Order    []string `yaml:"order,omitempty" json:"order,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
}

// Task is one benchmark task definition for a (type, difficulty) pair.
type Task struct {
	Type       string
	Difficulty string
	Prompt     string
	Tools      []Tool
	Plan       []PlanStep
	Expect     Expectation
}

// ExpectedOrder returns the reference tool-call order: the precomputed
// plan when present (the fast path that skips re-planning), otherwise the
// explicit order, otherwise the expected tool set in catalog order.
func (t *Task) ExpectedOrder() []string {
	if len(t.Plan) > 0 {
		out := make([]string, len(t.Plan))
		for i, step := range t.Plan {
			out[i] = step.Tool
		}
		return out
	}
	if len(t.Expect.Order) > 0 {
		return t.Expect.Order
	}
	return t.Expect.Tools
}

// ExpectedTools returns the reference tool set, deriving it from the plan
// when the expectation leaves it empty.
func (t *Task) ExpectedTools() []string {
	if len(t.Expect.Tools) > 0 {
		return t.Expect.Tools
	}
	seen := make(map[string]bool)
	var out []string
	for _, name := range t.ExpectedOrder() {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Tool looks up a catalog entry by name, case-insensitively.
func (t *Task) Tool(name string) (Tool, bool) {
	for _, tool := range t.Tools {
		if strings.EqualFold(tool.Name, name) {
			return tool, true
		}
	}
	return Tool{}, false
}

// SearchTools returns catalog entries whose name or description contains
// the query, case-insensitively. An empty query returns the full catalog.
func (t *Task) SearchTools(query string) []Tool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return t.Tools
	}
	var out []Tool
	for _, tool := range t.Tools {
		if strings.Contains(strings.ToLower(tool.Name), query) ||
			strings.Contains(strings.ToLower(tool.Description), query) {
			out = append(out, tool)
		}
	}
	return out
}

// Library resolves task definitions by type and difficulty.
type Library interface {
	Task(taskType, difficulty string) (*Task, error)
}

// ErrNoTask reports that a library has no definition for the requested
// pair. Misses from every library wrap it, so callers can distinguish a
// missing task from a broken library.
var ErrNoTask = errors.New("tasklib: no task available")

// builtinTools is the synthetic catalog used when no task directory is
// configured. The plan chains them in order, so harder difficulties
// simply require more of the chain.
var builtinTools = []Tool{
	{
		Name:        "lookup_record",
		Description: "Fetch the record identified by the given id from the data store.",
		Parameters:  map[string]string{"id": "record identifier"},
	},
	{
		Name:        "transform_record",
		Description: "Apply the named transformation to a previously fetched record.",
		Parameters:  map[string]string{"id": "record identifier", "operation": "transformation to apply"},
	},
	{
		Name:        "validate_record",
		Description: "Check a transformed record against the schema and report violations.",
		Parameters:  map[string]string{"id": "record identifier"},
	},
	{
		Name:        "publish_record",
		Description: "Publish the final record and return its public reference.",
		Parameters:  map[string]string{"id": "record identifier"},
	},
	{
		Name:        "audit_log",
		Description: "Append an entry describing an action to the audit trail.",
		Parameters:  map[string]string{"message": "entry text"},
	},
}

// Builtin is the fallback library. Every task type resolves to the same
// synthetic record-pipeline workflow; difficulty sets how much of the
// chain is required.
type Builtin struct{}

// NewBuiltin returns the builtin synthetic library.
func NewBuiltin() *Builtin { return &Builtin{} }

// Task builds a synthetic task. Difficulties easy, medium and hard map to
// plans of two, three and four steps; anything else gets three.
func (b *Builtin) Task(taskType, difficulty string) (*Task, error) {
	if taskType == "" {
		return nil, fmt.Errorf("tasklib: empty task type")
	}
	steps := 3
	switch strings.ToLower(difficulty) {
	case "easy":
		steps = 2
	case "hard":
		steps = 4
	}

	plan := make([]PlanStep, steps)
	order := make([]string, steps)
	for i := 0; i < steps; i++ {
		tool := builtinTools[i]
		plan[i] = PlanStep{Tool: tool.Name, Args: map[string]string{"id": "{{record_id}}"}}
		order[i] = tool.Name
	}

	prompt := fmt.Sprintf(
		"You are completing a %s workflow on record {{record_id}}. "+
			"Work through the data store tools step by step and finish with a short confirmation containing the word %q.",
		taskType, "completed")

	return &Task{
		Type:       taskType,
		Difficulty: strings.ToLower(difficulty),
		Prompt:     prompt,
		Tools:      builtinTools,
		Plan:       plan,
		Expect: Expectation{
			Tools:    order,
			Order:    order,
			Keywords: []string{"completed"},
		},
	}, nil
}

// NoOp resolves nothing. It stands in when task resolution is disabled;
// every lookup returns ErrNoTask so a shard wired without tasks fails at
// resolution instead of running empty sessions.
type NoOp struct{}

func (NoOp) Task(taskType, difficulty string) (*Task, error) {
	return nil, fmt.Errorf("%s/%s: %w", taskType, difficulty, ErrNoTask)
}
