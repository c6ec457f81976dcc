package merge

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/evaluate"
	"github.com/torosent/gauntlet/internal/stats"

	_ "modernc.org/sqlite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResult(success string) collector.Result {
	return collector.Result{
		SessionID:   "run-shard-1",
		RunID:       "run",
		ShardID:     "shard-0",
		Model:       "gpt-test",
		Variant:     "default",
		TaskType:    "workflow",
		Difficulty:  "easy",
		Reliability: 0.8,
		Status:      evaluate.StatusCompleted,
		Success:     success,
		Turns:       3,
		DurationMS:  1500,
	}
}

func writeArtifact(t *testing.T, dir string, results ...collector.Result) string {
	t.Helper()
	name, err := collector.WriteArtifact(dir, &collector.Artifact{
		RunID:     "run",
		ShardID:   "shard-0",
		WrittenAt: time.Now().UTC(),
		Results:   results,
	})
	if err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return name
}

func newMerger(t *testing.T, artifactDir string, cfg config.MergerConfig) *Merger {
	t.Helper()
	m := New(cfg, artifactDir, discardLogger())
	if err := m.Open(); err != nil {
		t.Fatalf("open merger: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func bucketKey() stats.Key {
	return stats.Key{Model: "gpt-test", Variant: "default", Reliability: "0.80", Difficulty: "easy", TaskType: "workflow"}
}

func TestRunOnceFoldsArtifacts(t *testing.T) {
	artifacts := t.TempDir()
	writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess), sampleResult(evaluate.Failure))
	writeArtifact(t, artifacts, sampleResult(evaluate.PartialSuccess))

	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath})

	merged, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if merged != 2 {
		t.Errorf("merged = %d, want 2", merged)
	}

	bucket, ok := m.Store().Bucket(bucketKey())
	if !ok {
		t.Fatal("bucket missing after merge")
	}
	if bucket.Total != 3 || bucket.FullSuccess != 1 || bucket.PartialSuccess != 1 || bucket.Failure != 1 {
		t.Errorf("bucket = %+v", bucket)
	}

	// Consumed artifacts leave the scan set but stay on disk as markers.
	names, err := collector.ListArtifacts(artifacts)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("unconsumed artifacts remain: %v", names)
	}
	entries, err := os.ReadDir(artifacts)
	if err != nil {
		t.Fatalf("read artifact dir: %v", err)
	}
	markers := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".merged") {
			markers++
		}
	}
	if markers != 2 {
		t.Errorf("found %d .merged markers, want 2", markers)
	}

	if _, err := os.Stat(storePath); err != nil {
		t.Errorf("store document not written: %v", err)
	}
}

func TestRedeliveryNeverDoubleCounts(t *testing.T) {
	artifacts := t.TempDir()
	name := writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath})

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// Simulate a consume that did not stick: the artifact reappears.
	marked := filepath.Join(artifacts, name+".merged")
	if err := os.Rename(marked, filepath.Join(artifacts, name)); err != nil {
		t.Fatalf("re-deliver artifact: %v", err)
	}

	merged, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if merged != 0 {
		t.Errorf("merged = %d on re-delivery, want 0", merged)
	}
	bucket, _ := m.Store().Bucket(bucketKey())
	if bucket.Total != 1 {
		t.Errorf("Total = %d after re-delivery, want 1", bucket.Total)
	}

	// The re-delivered copy is consumed again rather than rescanned forever.
	names, err := collector.ListArtifacts(artifacts)
	if err != nil {
		t.Fatalf("list artifacts: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("re-delivered artifact still in scan set: %v", names)
	}
}

func TestObserveSeesFoldedResults(t *testing.T) {
	artifacts := t.TempDir()
	name := writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess), sampleResult(evaluate.Failure))

	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath})

	var seen []collector.Result
	m.Observe(func(res collector.Result) { seen = append(seen, res) })

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("observer saw %d results, want 2", len(seen))
	}
	if seen[0].Model != "gpt-test" {
		t.Errorf("Model = %q, want gpt-test", seen[0].Model)
	}

	// Re-delivery is invisible to the observer, same as the store.
	if err := os.Rename(filepath.Join(artifacts, name+".merged"), filepath.Join(artifacts, name)); err != nil {
		t.Fatalf("re-deliver artifact: %v", err)
	}
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("observer saw %d results after re-delivery, want 2", len(seen))
	}
}

func TestReopenRestoresStoreAndLedger(t *testing.T) {
	artifacts := t.TempDir()
	name := writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	storePath := filepath.Join(t.TempDir(), "store.json")
	cfg := config.MergerConfig{StorePath: storePath}

	first := New(cfg, artifacts, discardLogger())
	if err := first.Open(); err != nil {
		t.Fatalf("open first merger: %v", err)
	}
	if _, err := first.RunOnce(context.Background()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first merger: %v", err)
	}

	second := newMerger(t, artifacts, cfg)
	bucket, ok := second.Store().Bucket(bucketKey())
	if !ok || bucket.Total != 1 {
		t.Fatalf("restored bucket = %+v, ok = %v", bucket, ok)
	}

	// The restored ledger still recognizes the artifact.
	if err := os.Rename(filepath.Join(artifacts, name+".merged"), filepath.Join(artifacts, name)); err != nil {
		t.Fatalf("re-deliver artifact: %v", err)
	}
	merged, err := second.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("merge after reopen: %v", err)
	}
	if merged != 0 {
		t.Errorf("merged = %d, want 0; ledger lost across reopen", merged)
	}
}

func TestOpenFailsWhenStoreHeld(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.json")
	cfg := config.MergerConfig{StorePath: storePath}

	newMerger(t, t.TempDir(), cfg)

	other := New(cfg, t.TempDir(), discardLogger())
	if err := other.Open(); err == nil {
		other.Close()
		t.Fatal("second Open succeeded; store lock not exclusive")
	}
}

func TestDeleteMergedRemovesArtifacts(t *testing.T) {
	artifacts := t.TempDir()
	writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath, DeleteMerged: true})

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	entries, err := os.ReadDir(artifacts)
	if err != nil {
		t.Fatalf("read artifact dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("artifact dir not empty after delete-merged: %v", entries)
	}
}

func TestRunMergesPeriodically(t *testing.T) {
	artifacts := t.TempDir()
	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath, ScanInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if bucket, ok := m.Store().Bucket(bucketKey()); ok && bucket.Total == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("artifact not merged within deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
}

func TestRunDrainsOnShutdown(t *testing.T) {
	artifacts := t.TempDir()
	writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	storePath := filepath.Join(t.TempDir(), "store.json")
	m := newMerger(t, artifacts, config.MergerConfig{StorePath: storePath, ScanInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	bucket, ok := m.Store().Bucket(bucketKey())
	if !ok || bucket.Total != 1 {
		t.Errorf("final drain missed the artifact: %+v, ok = %v", bucket, ok)
	}
}

func TestRunOnceExportsSQLite(t *testing.T) {
	artifacts := t.TempDir()
	writeArtifact(t, artifacts, sampleResult(evaluate.FullSuccess))

	dir := t.TempDir()
	cfg := config.MergerConfig{
		StorePath:  filepath.Join(dir, "store.json"),
		SQLitePath: filepath.Join(dir, "stats.db"),
	}
	m := newMerger(t, artifacts, cfg)

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("merge: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer db.Close()
	var total int
	if err := db.QueryRow("SELECT total FROM buckets WHERE model = 'gpt-test'").Scan(&total); err != nil {
		t.Fatalf("query export: %v", err)
	}
	if total != 1 {
		t.Errorf("exported total = %d, want 1", total)
	}
}
