// Package stats maintains the cumulative statistics store: a five-level
// hierarchy of aggregate buckets keyed by model, prompt variant,
// tool-reliability bucket, difficulty and task type. Every aggregate is a
// count or a sum, never an incremental average, so folding results in any
// order yields the same tree. Grand totals are always derived by walking
// the hierarchy.
package stats

import (
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/evaluate"
)

// Bucket holds the aggregates for one leaf of the hierarchy.
type Bucket struct {
	Total           int            `json:"total"`
	FullSuccess     int            `json:"full_success"`
	PartialSuccess  int            `json:"partial_success"`
	Failure         int            `json:"failure"`
	ErrorCategories map[string]int `json:"error_categories,omitempty"`

	TurnsSum         int     `json:"turns_sum"`
	ToolCallsSum     int     `json:"tool_calls_sum"`
	InputTokensSum   int     `json:"input_tokens_sum"`
	OutputTokensSum  int     `json:"output_tokens_sum"`
	DurationMSSum    int64   `json:"duration_ms_sum"`
	ModelTimeMSSum   int64   `json:"model_time_ms_sum"`
	LimiterWaitMSSum int64   `json:"limiter_wait_ms_sum"`
	CompositeSum     float64 `json:"composite_sum"`
}

func (b *Bucket) fold(res collector.Result) {
	b.Total++
	switch res.Success {
	case evaluate.FullSuccess:
		b.FullSuccess++
	case evaluate.PartialSuccess:
		b.PartialSuccess++
	default:
		b.Failure++
	}
	if res.ErrorCategory != "" {
		if b.ErrorCategories == nil {
			b.ErrorCategories = make(map[string]int)
		}
		b.ErrorCategories[res.ErrorCategory]++
	}

	b.TurnsSum += res.Turns
	b.ToolCallsSum += res.ToolCalls
	b.InputTokensSum += res.InputTokens
	b.OutputTokensSum += res.OutputTokens
	b.DurationMSSum += res.DurationMS
	b.ModelTimeMSSum += res.ModelTimeMS
	b.LimiterWaitMSSum += res.LimiterWaitMS
	b.CompositeSum += res.Score.Composite
}

func (b *Bucket) merge(other *Bucket) {
	b.Total += other.Total
	b.FullSuccess += other.FullSuccess
	b.PartialSuccess += other.PartialSuccess
	b.Failure += other.Failure
	for category, n := range other.ErrorCategories {
		if b.ErrorCategories == nil {
			b.ErrorCategories = make(map[string]int)
		}
		b.ErrorCategories[category] += n
	}

	b.TurnsSum += other.TurnsSum
	b.ToolCallsSum += other.ToolCallsSum
	b.InputTokensSum += other.InputTokensSum
	b.OutputTokensSum += other.OutputTokensSum
	b.DurationMSSum += other.DurationMSSum
	b.ModelTimeMSSum += other.ModelTimeMSSum
	b.LimiterWaitMSSum += other.LimiterWaitMSSum
	b.CompositeSum += other.CompositeSum
}

func (b *Bucket) clone() Bucket {
	out := *b
	if b.ErrorCategories != nil {
		out.ErrorCategories = make(map[string]int, len(b.ErrorCategories))
		for category, n := range b.ErrorCategories {
			out.ErrorCategories[category] = n
		}
	}
	return out
}

// FullRate is the fraction of results that were full successes.
func (b *Bucket) FullRate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.FullSuccess) / float64(b.Total)
}

// FailureRate is the fraction of results that failed.
func (b *Bucket) FailureRate() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.Failure) / float64(b.Total)
}

// MeanComposite is the average composite score across the bucket.
func (b *Bucket) MeanComposite() float64 {
	if b.Total == 0 {
		return 0
	}
	return b.CompositeSum / float64(b.Total)
}

// MeanDurationMS is the average session duration across the bucket.
func (b *Bucket) MeanDurationMS() float64 {
	if b.Total == 0 {
		return 0
	}
	return float64(b.DurationMSSum) / float64(b.Total)
}

// Key identifies one leaf bucket. Reliability is stored in its bucketed
// string form so keys compare exactly.
type Key struct {
	Model       string
	Variant     string
	Reliability string
	Difficulty  string
	TaskType    string
}

// KeyFor derives the bucket key for one result.
func KeyFor(res collector.Result) Key {
	return Key{
		Model:       res.Model,
		Variant:     res.Variant,
		Reliability: ReliabilityBucket(res.Reliability),
		Difficulty:  res.Difficulty,
		TaskType:    res.TaskType,
	}
}

// ReliabilityBucket renders a tool-reliability probability at the fixed
// two-decimal bucket precision, so nearby float values land in one bucket.
func ReliabilityBucket(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

type (
	byTaskType    map[string]*Bucket
	byDifficulty  map[string]byTaskType
	byReliability map[string]byDifficulty
	byVariant     map[string]byReliability
	byModel       map[string]byVariant
)

// Store is the cumulative hierarchy. The merger is the only writer;
// readers (summary, dashboard) take snapshots through the read lock.
type Store struct {
	mu     sync.RWMutex
	models byModel
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{models: make(byModel)}
}

// Apply folds one result into its leaf bucket, creating the path on
// first use.
func (s *Store) Apply(res collector.Result) {
	key := KeyFor(res)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaf(key).fold(res)
}

func (s *Store) leaf(key Key) *Bucket {
	variants := s.models[key.Model]
	if variants == nil {
		variants = make(byVariant)
		s.models[key.Model] = variants
	}
	reliabilities := variants[key.Variant]
	if reliabilities == nil {
		reliabilities = make(byReliability)
		variants[key.Variant] = reliabilities
	}
	difficulties := reliabilities[key.Reliability]
	if difficulties == nil {
		difficulties = make(byDifficulty)
		reliabilities[key.Reliability] = difficulties
	}
	taskTypes := difficulties[key.Difficulty]
	if taskTypes == nil {
		taskTypes = make(byTaskType)
		difficulties[key.Difficulty] = taskTypes
	}
	bucket := taskTypes[key.TaskType]
	if bucket == nil {
		bucket = &Bucket{}
		taskTypes[key.TaskType] = bucket
	}
	return bucket
}

// Bucket returns a copy of the leaf for key and whether it exists.
func (s *Store) Bucket(key Key) (Bucket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.models[key.Model][key.Variant][key.Reliability][key.Difficulty][key.TaskType]
	if bucket == nil {
		return Bucket{}, false
	}
	return bucket.clone(), true
}

// Walk visits every leaf in sorted key order.
func (s *Store) Walk(fn func(key Key, b Bucket)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, model := range sortedKeys(s.models) {
		variants := s.models[model]
		for _, variant := range sortedKeys(variants) {
			reliabilities := variants[variant]
			for _, reliability := range sortedKeys(reliabilities) {
				difficulties := reliabilities[reliability]
				for _, difficulty := range sortedKeys(difficulties) {
					taskTypes := difficulties[difficulty]
					for _, taskType := range sortedKeys(taskTypes) {
						key := Key{
							Model:       model,
							Variant:     variant,
							Reliability: reliability,
							Difficulty:  difficulty,
							TaskType:    taskType,
						}
						fn(key, taskTypes[taskType].clone())
					}
				}
			}
		}
	}
}

// Totals sums every leaf into one grand-total bucket.
func (s *Store) Totals() Bucket {
	var out Bucket
	s.Walk(func(_ Key, b Bucket) {
		out.merge(&b)
	})
	return out
}

// ModelTotals sums one model's subtree.
func (s *Store) ModelTotals(model string) Bucket {
	var out Bucket
	s.Walk(func(key Key, b Bucket) {
		if key.Model == model {
			out.merge(&b)
		}
	})
	return out
}

// Models lists the model names present, sorted.
func (s *Store) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.models)
}

// MarshalJSON renders the hierarchy as the persisted document form.
func (s *Store) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.models)
}

// UnmarshalJSON replaces the hierarchy with the document's contents.
func (s *Store) UnmarshalJSON(data []byte) error {
	var models byModel
	if err := json.Unmarshal(data, &models); err != nil {
		return err
	}
	if models == nil {
		models = make(byModel)
	}
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
