package partition

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteShardFile writes one shard descriptor for a child process to load.
func WriteShardFile(path string, shard *Shard) error {
	data, err := yaml.Marshal(shard)
	if err != nil {
		return fmt.Errorf("encode shard %s: %w", shard.ID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write shard file: %w", err)
	}
	return nil
}

// ReadShardFile loads a shard descriptor written by the parent process.
func ReadShardFile(path string) (*Shard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shard file: %w", err)
	}
	var shard Shard
	if err := yaml.Unmarshal(data, &shard); err != nil {
		return nil, fmt.Errorf("parse shard file %s: %w", path, err)
	}
	if shard.Endpoint == "" {
		return nil, fmt.Errorf("shard file %s names no endpoint", path)
	}
	if shard.Workers < 1 {
		shard.Workers = 1
	}
	return &shard, nil
}
