package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/torosent/gauntlet/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		infoOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true},
		{"bogus", false, true}, // Unknown levels fall back to info
		{"WARN", false, false},
	}

	for _, tt := range tests {
		logger := newLogger(tt.level)
		ctx := context.Background()
		if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
			t.Errorf("newLogger(%q) debug enabled = %v, want %v", tt.level, got, tt.debugOn)
		}
		if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.infoOn {
			t.Errorf("newLogger(%q) info enabled = %v, want %v", tt.level, got, tt.infoOn)
		}
	}
}

func planConfig() *config.Config {
	return &config.Config{
		Request: config.BenchmarkRequest{
			Model:          "gpt-test",
			PromptVariants: []string{"default"},
			TaskTypes:      []string{"workflow"},
			Instances:      10,
			Mode:           config.ModeFixed,
		},
		Endpoints: []config.Endpoint{{
			Name:    "east",
			Class:   config.ClassSingleTunable,
			Workers: 2,
			QPS:     1.5,
		}},
	}
}

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	if err := printPlan(&buf, planConfig()); err != nil {
		t.Fatalf("print plan: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Model gpt-test: 10 instances across 1 shards",
		"east: 10 instances",
		"shard-00: endpoint=east",
		"workers=2",
		"instances=10",
		"qps=1.5",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("plan output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintPlanNoEndpoints(t *testing.T) {
	cfg := planConfig()
	cfg.Endpoints = nil
	if err := printPlan(&bytes.Buffer{}, cfg); err == nil {
		t.Fatal("expected error for empty endpoint set")
	}
}

func TestRunHelp(t *testing.T) {
	if err := run([]string{"--help"}); err != nil {
		t.Errorf("run(--help) = %v, want nil", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	// A model with no endpoints must fail validation before any mode runs.
	if err := run([]string{"--model", "gpt-test"}); err == nil {
		t.Fatal("expected validation error")
	}
}
