// Package merge consolidates flushed result artifacts into the shared
// statistics store. Exactly one merger runs against a store at a time;
// an exclusive advisory lock enforces the single-writer discipline
// across sibling processes. Each scan works over a snapshot listing and
// an applied-artifact ledger makes re-delivery of the same artifact a
// no-op, so at-least-once delivery never double-counts.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/gauntlet/internal/collector"
	"github.com/torosent/gauntlet/internal/config"
	"github.com/torosent/gauntlet/internal/stats"
)

const (
	defaultScanInterval = 5 * time.Second
	mergedSuffix        = ".merged"
)

// storeFile is the persisted document: the bucket hierarchy plus the
// ledger of artifact names already folded in. Both live in one file so a
// crash can never separate a fold from its ledger entry.
type storeFile struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Applied   []string     `json:"applied,omitempty"`
	Buckets   *stats.Store `json:"buckets"`
}

// Merger owns the shared store. Open acquires the lock and loads state,
// Run scans until the context ends, Close releases the lock. Methods are
// not safe for concurrent use; run one merger goroutine.
type Merger struct {
	cfg         config.MergerConfig
	artifactDir string
	logger      *slog.Logger
	lock        *flock.Flock
	store       *stats.Store
	applied     map[string]bool
	observe     func(collector.Result)
}

// New builds a merger over the store named by cfg, consuming artifacts
// from artifactDir.
func New(cfg config.MergerConfig, artifactDir string, logger *slog.Logger) *Merger {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		cfg:         cfg,
		artifactDir: artifactDir,
		logger:      logger,
		lock:        flock.New(cfg.StorePath + ".lock"),
		store:       stats.NewStore(),
		applied:     make(map[string]bool),
	}
}

// Open takes the exclusive store lock and loads the persisted document.
// A second merger on the same store fails fast instead of queueing.
func (m *Merger) Open() error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.StorePath), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	locked, err := m.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock store: %w", err)
	}
	if !locked {
		return fmt.Errorf("store %s is held by another merger", m.cfg.StorePath)
	}

	data, err := os.ReadFile(m.cfg.StorePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		m.lock.Unlock()
		return fmt.Errorf("read store: %w", err)
	}
	var doc storeFile
	if err := json.Unmarshal(data, &doc); err != nil {
		m.lock.Unlock()
		return fmt.Errorf("decode store %s: %w", m.cfg.StorePath, err)
	}
	if doc.Buckets != nil {
		m.store = doc.Buckets
	}
	for _, name := range doc.Applied {
		m.applied[name] = true
	}
	return nil
}

// Close releases the store lock. State is already durable at this point;
// Close never writes.
func (m *Merger) Close() error {
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock store: %w", err)
	}
	return nil
}

// Store exposes the live hierarchy for summary and dashboard readers.
func (m *Merger) Store() *stats.Store {
	return m.store
}

// Observe registers fn to receive every result as it is folded in. The
// merge goroutine calls it synchronously; set it before Run.
func (m *Merger) Observe(fn func(collector.Result)) {
	m.observe = fn
}

// Run scans on the configured interval until ctx ends, then performs one
// final scan so results flushed during shutdown are not stranded. Scan
// errors are logged and retried on the next tick, never fatal.
func (m *Merger) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_, err := m.RunOnce(context.Background())
			return err
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error("merge scan failed", "error", err)
			}
		}
	}
}

// RunOnce scans a snapshot of the artifact directory, folds every
// artifact not yet in the ledger, persists the store document, and only
// then marks the folded artifacts consumed. A crash before the save
// re-delivers the artifacts and the ledger has forgotten nothing; a crash
// after the save re-delivers them and the ledger drops them. Returns how
// many artifacts were folded.
func (m *Merger) RunOnce(ctx context.Context) (int, error) {
	names, err := collector.ListArtifacts(m.artifactDir)
	if err != nil {
		return 0, fmt.Errorf("scan artifacts: %w", err)
	}

	var folded []string
	for _, name := range names {
		if m.applied[name] {
			// Already folded; a previous consume attempt did not stick.
			m.consume(name)
			continue
		}
		artifact, err := collector.ReadArtifact(filepath.Join(m.artifactDir, name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// Vanished mid-scan; the snapshot listing makes this benign.
				continue
			}
			m.logger.Error("unreadable artifact skipped", "artifact", name, "error", err)
			continue
		}
		for _, res := range artifact.Results {
			m.store.Apply(res)
			if m.observe != nil {
				m.observe(res)
			}
		}
		m.applied[name] = true
		folded = append(folded, name)
		m.logger.Debug("artifact folded", "artifact", name, "results", len(artifact.Results))
	}
	if len(folded) == 0 {
		return 0, nil
	}

	if err := m.save(); err != nil {
		return 0, err
	}
	for _, name := range folded {
		m.consume(name)
	}

	if m.cfg.SQLitePath != "" {
		if err := stats.ExportSQLite(ctx, m.cfg.SQLitePath, m.store); err != nil {
			m.logger.Error("sqlite export failed", "path", m.cfg.SQLitePath, "error", err)
		}
	}
	return len(folded), nil
}

func (m *Merger) save() error {
	doc := storeFile{
		UpdatedAt: time.Now().UTC(),
		Applied:   sortedNames(m.applied),
		Buckets:   m.store,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	tmp := m.cfg.StorePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, m.cfg.StorePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// consume marks one artifact done: deleted, or renamed out of the scan
// set. An artifact that is already gone is fine.
func (m *Merger) consume(name string) {
	path := filepath.Join(m.artifactDir, name)
	var err error
	if m.cfg.DeleteMerged {
		err = os.Remove(path)
	} else {
		err = os.Rename(path, path+mergedSuffix)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("could not mark artifact consumed", "artifact", name, "error", err)
	}
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
