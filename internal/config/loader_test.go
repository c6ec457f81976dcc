package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/gauntlet/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	loader := config.NewLoader()

	cfg, err := loader.Load([]string{"--model", "gpt-test"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Request.Model != "gpt-test" {
		t.Errorf("Request.Model = %q, want gpt-test", cfg.Request.Model)
	}
	if cfg.Request.Instances != 1 {
		t.Errorf("Request.Instances = %d, want 1", cfg.Request.Instances)
	}
	if cfg.Request.ToolReliability != 1 {
		t.Errorf("Request.ToolReliability = %v, want 1", cfg.Request.ToolReliability)
	}
	if cfg.Request.Mode != config.ModeFixed {
		t.Errorf("Request.Mode = %q, want fixed", cfg.Request.Mode)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("Session.MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if cfg.Session.APITimeout != 150*time.Second {
		t.Errorf("Session.APITimeout = %s, want 150s", cfg.Session.APITimeout)
	}
	if cfg.Session.TransportRetries != 5 {
		t.Errorf("Session.TransportRetries = %d, want 5", cfg.Session.TransportRetries)
	}
	if cfg.Session.FormatErrorLimit != 3 {
		t.Errorf("Session.FormatErrorLimit = %d, want 3", cfg.Session.FormatErrorLimit)
	}
	if cfg.Collector.FlushSize != 20 {
		t.Errorf("Collector.FlushSize = %d, want 20", cfg.Collector.FlushSize)
	}
	if cfg.Collector.FlushInterval != 30*time.Second {
		t.Errorf("Collector.FlushInterval = %s, want 30s", cfg.Collector.FlushInterval)
	}
	if cfg.Merger.ScanInterval != 10*time.Second {
		t.Errorf("Merger.ScanInterval = %s, want 10s", cfg.Merger.ScanInterval)
	}
	if cfg.Limiter.ConservativeQPS != 0.5 {
		t.Errorf("Limiter.ConservativeQPS = %v, want 0.5", cfg.Limiter.ConservativeQPS)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadEmptyArgsRequestsHelp(t *testing.T) {
	loader := config.NewLoader()
	if _, err := loader.Load(nil); !errors.Is(err, config.ErrHelpRequested) {
		t.Fatalf("Load(nil) error = %v, want ErrHelpRequested", err)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"request:",
		"  model: gpt-large",
		"  prompt_variants: [terse, verbose]",
		"  task_types: [provisioning]",
		"  difficulty: hard",
		"  instances: 10",
		"  tool_reliability: 0.8",
		"  mode: adaptive",
		"credentials:",
		"  - name: east-key",
		"    type: static",
		"    token: sk-test",
		"endpoints:",
		"  - name: east",
		"    class: multi_instance",
		"    qps: 2",
		"    workers: 4",
		"    api_timeout: 120s",
		"    deployments:",
		"      - url: https://east-0.example.com/v1",
		"        credential: east-key",
		"      - url: https://east-1.example.com/v1",
		"        credential: east-key",
		"session:",
		"  max_turns: 5",
		"  wall_clock: 10m",
		"collector:",
		"  flush_size: 5",
		"merger:",
		"  scan_interval: 2s",
		"gates:",
		"  - 'success_rate:full >= 0.8'",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path, "--instances", "20"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Request.Model != "gpt-large" {
		t.Errorf("Request.Model = %q, want gpt-large", cfg.Request.Model)
	}
	if len(cfg.Request.PromptVariants) != 2 || cfg.Request.PromptVariants[0] != "terse" {
		t.Errorf("Request.PromptVariants = %v, want [terse verbose]", cfg.Request.PromptVariants)
	}
	if cfg.Request.Instances != 20 {
		t.Errorf("Request.Instances = %d, want flag override 20", cfg.Request.Instances)
	}
	if cfg.Request.ToolReliability != 0.8 {
		t.Errorf("Request.ToolReliability = %v, want 0.8", cfg.Request.ToolReliability)
	}
	if cfg.Request.Mode != config.ModeAdaptive {
		t.Errorf("Request.Mode = %q, want adaptive", cfg.Request.Mode)
	}
	if len(cfg.Endpoints) != 1 {
		t.Fatalf("Endpoints len = %d, want 1", len(cfg.Endpoints))
	}
	ep := cfg.Endpoints[0]
	if ep.Class != config.ClassMultiInstance {
		t.Errorf("Endpoint.Class = %q, want multi_instance", ep.Class)
	}
	if ep.QPS != 2 {
		t.Errorf("Endpoint.QPS = %v, want 2", ep.QPS)
	}
	if ep.APITimeout != 120*time.Second {
		t.Errorf("Endpoint.APITimeout = %s, want 120s", ep.APITimeout)
	}
	if len(ep.Deployments) != 2 {
		t.Fatalf("Deployments len = %d, want 2", len(ep.Deployments))
	}
	if ep.Deployments[0].Transport != config.TransportHTTP {
		t.Errorf("Deployment.Transport = %q, want default http", ep.Deployments[0].Transport)
	}
	if ep.Deployments[1].Name != "east-1" {
		t.Errorf("Deployment.Name = %q, want generated east-1", ep.Deployments[1].Name)
	}
	if cfg.Session.MaxTurns != 5 {
		t.Errorf("Session.MaxTurns = %d, want 5", cfg.Session.MaxTurns)
	}
	if cfg.Session.WallClock != 10*time.Minute {
		t.Errorf("Session.WallClock = %s, want 10m", cfg.Session.WallClock)
	}
	if cfg.Session.APITimeout != 150*time.Second {
		t.Errorf("Session.APITimeout = %s, want untouched default 150s", cfg.Session.APITimeout)
	}
	if cfg.Collector.FlushSize != 5 {
		t.Errorf("Collector.FlushSize = %d, want 5", cfg.Collector.FlushSize)
	}
	if cfg.Merger.ScanInterval != 2*time.Second {
		t.Errorf("Merger.ScanInterval = %s, want 2s", cfg.Merger.ScanInterval)
	}
	if len(cfg.Gates) != 1 || !strings.Contains(cfg.Gates[0], "success_rate:full") {
		t.Errorf("Gates = %v, want one success_rate gate", cfg.Gates)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadCredentialEnvFallback(t *testing.T) {
	t.Setenv("GAUNTLET_CRED_EAST_KEY_TOKEN", "sk-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"request:",
		"  model: gpt-test",
		"credentials:",
		"  - name: east-key",
		"    type: static",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--config", path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Credentials) != 1 || cfg.Credentials[0].Token != "sk-from-env" {
		t.Fatalf("Credentials = %+v, want token from env", cfg.Credentials)
	}
}

func TestLoadModeFlags(t *testing.T) {
	loader := config.NewLoader()
	cfg, err := loader.Load([]string{"--model", "gpt-test", "--merge-only", "--shard-file", "shard.yaml", "--print-plan"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.MergeOnly {
		t.Error("MergeOnly = false, want true")
	}
	if cfg.ShardFile != "shard.yaml" {
		t.Errorf("ShardFile = %q, want shard.yaml", cfg.ShardFile)
	}
	if !cfg.PrintPlan {
		t.Error("PrintPlan = false, want true")
	}
}
