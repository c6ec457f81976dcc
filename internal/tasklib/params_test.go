package tasklib

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParamFeedCSVCycles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.csv")
	content := `record_id,region
r-1,east
r-2,west
r-3,south`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	feed, err := NewParamFeed(path)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	if feed.Len() != 3 {
		t.Fatalf("len = %d, want 3", feed.Len())
	}

	want := []string{"r-1", "r-2", "r-3", "r-1", "r-2"}
	for i, id := range want {
		record, err := feed.Next(context.Background())
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if record["record_id"] != id {
			t.Errorf("next %d record_id = %q, want %q", i, record["record_id"], id)
		}
	}
}

func TestParamFeedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	content := `[{"record_id": "r-1", "retries": 2}, {"record_id": "r-2", "retries": 0}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	feed, err := NewParamFeed(path)
	if err != nil {
		t.Fatal(err)
	}
	defer feed.Close()

	record, err := feed.Next(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if record["record_id"] != "r-1" || record["retries"] != "2" {
		t.Errorf("record = %v, want stringified first object", record)
	}
}

func TestParamFeedRejectsUnknownExtension(t *testing.T) {
	if _, err := NewParamFeed("params.txt"); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestParamFeedHonorsContext(t *testing.T) {
	feed := &memoryFeed{records: []Record{{"k": "v"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := feed.Next(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	got := Render("Fetch {{record_id}} from {{region}}.", Record{"record_id": "r-9"})
	want := "Fetch r-9 from {{region}}."
	if got != want {
		t.Errorf("rendered = %q, want %q", got, want)
	}
}

func TestInstanceMergePrecedence(t *testing.T) {
	merged := Instance(Record{"record_id": "pinned"}, Record{"record_id": "r-0", "variant": "plain"})
	if merged["record_id"] != "pinned" {
		t.Errorf("record_id = %q, want parameter file to win", merged["record_id"])
	}
	if merged["variant"] != "plain" {
		t.Errorf("variant = %q, want builtin preserved", merged["variant"])
	}
}
