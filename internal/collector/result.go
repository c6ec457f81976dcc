package collector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/gauntlet/internal/evaluate"
)

// Result is the immutable outcome of one task session. Exactly one is
// emitted per session, completed or aborted, and it carries everything the
// statistics hierarchy keys on.
type Result struct {
	SessionID     string         `json:"session_id"`
	RunID         string         `json:"run_id"`
	ShardID       string         `json:"shard_id"`
	Model         string         `json:"model"`
	Variant       string         `json:"variant"`
	TaskType      string         `json:"task_type"`
	Difficulty    string         `json:"difficulty"`
	Reliability   float64        `json:"reliability"`
	Endpoint      string         `json:"endpoint"`
	Deployment    string         `json:"deployment,omitempty"`
	Status        string         `json:"status"`
	Success       string         `json:"success"`
	Score         evaluate.Score `json:"score"`
	ErrorCategory string         `json:"error_category,omitempty"`
	Turns         int            `json:"turns"`
	ToolCalls     int            `json:"tool_calls"`
	ToolFailures  int            `json:"tool_failures"`
	Searches      int            `json:"searches"`
	FormatErrors  int            `json:"format_errors"`
	ToolsUsed     []string       `json:"tools_used,omitempty"`
	InputTokens   int            `json:"input_tokens"`
	OutputTokens  int            `json:"output_tokens"`
	StartedAt     time.Time      `json:"started_at"`
	DurationMS    int64          `json:"duration_ms"`
	LimiterWaitMS int64          `json:"limiter_wait_ms"`
	ModelTimeMS   int64          `json:"model_time_ms"`
}

// Artifact is one durable flush: a self-contained batch of results that
// can be merged and deleted independently of every other artifact.
type Artifact struct {
	RunID     string    `json:"run_id"`
	ShardID   string    `json:"shard_id"`
	WrittenAt time.Time `json:"written_at"`
	Results   []Result  `json:"results"`
}

const artifactSuffix = ".json"

// WriteArtifact persists one artifact under dir with a fresh ULID name,
// writing to a temp file and renaming so a crash mid-write never leaves a
// half artifact where the merger scans.
func WriteArtifact(dir string, artifact *Artifact) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}

	name := ulid.Make().String() + artifactSuffix
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publish artifact: %w", err)
	}
	return name, nil
}

// ReadArtifact loads and validates one artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", filepath.Base(path), err)
	}
	return &artifact, nil
}

// ListArtifacts returns the unconsumed artifact files under dir, oldest
// first. ULID names make lexical order creation order. Temp files and
// consumed markers are skipped.
func ListArtifacts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, artifactSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
