package tasklib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/gauntlet/internal/config"
)

// taskFile is the on-disk layout of one task-type definition. Tools at
// the top level are shared across difficulties; a difficulty may override
// them with its own list.
type taskFile struct {
	Type         string              `yaml:"type"`
	Tools        []Tool              `yaml:"tools"`
	Difficulties map[string]taskSpec `yaml:"difficulties"`
}

type taskSpec struct {
	Prompt string      `yaml:"prompt"`
	Tools  []Tool      `yaml:"tools,omitempty"`
	Plan   []PlanStep  `yaml:"plan,omitempty"`
	Expect Expectation `yaml:"expect"`
}

// FileLibrary serves task definitions from a directory of YAML files, one
// file per task type, loaded eagerly at startup.
type FileLibrary struct {
	types map[string]taskFile
}

// NewFileLibrary loads every .yaml/.yml file under dir.
func NewFileLibrary(dir string) (*FileLibrary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read task directory: %w", err)
	}

	lib := &FileLibrary{types: make(map[string]taskFile)}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read task file %s: %w", path, err)
		}
		var tf taskFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse task file %s: %w", path, err)
		}
		if tf.Type == "" {
			tf.Type = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		if len(tf.Difficulties) == 0 {
			return nil, fmt.Errorf("task file %s defines no difficulties", path)
		}
		lib.types[strings.ToLower(tf.Type)] = tf
	}
	if len(lib.types) == 0 {
		return nil, fmt.Errorf("task directory %s contains no task files", dir)
	}
	return lib, nil
}

// Types lists the loaded task types.
func (l *FileLibrary) Types() []string {
	out := make([]string, 0, len(l.types))
	for name := range l.types {
		out = append(out, name)
	}
	return out
}

// Task resolves a (type, difficulty) pair. A difficulty missing from the
// file falls back to its "default" entry when one exists.
func (l *FileLibrary) Task(taskType, difficulty string) (*Task, error) {
	tf, ok := l.types[strings.ToLower(taskType)]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q: %w", taskType, ErrNoTask)
	}
	difficulty = strings.ToLower(difficulty)
	spec, ok := tf.Difficulties[difficulty]
	if !ok {
		spec, ok = tf.Difficulties["default"]
		if !ok {
			return nil, fmt.Errorf("task type %q has no difficulty %q: %w", taskType, difficulty, ErrNoTask)
		}
	}

	tools := tf.Tools
	if len(spec.Tools) > 0 {
		tools = spec.Tools
	}
	return &Task{
		Type:       strings.ToLower(tf.Type),
		Difficulty: difficulty,
		Prompt:     spec.Prompt,
		Tools:      tools,
		Plan:       spec.Plan,
		Expect:     spec.Expect,
	}, nil
}

// New builds the configured library: a file library when a task directory
// is set, the builtin catalog otherwise.
func New(cfg config.TaskLibraryConfig) (Library, error) {
	if cfg.Dir == "" {
		return NewBuiltin(), nil
	}
	return NewFileLibrary(cfg.Dir)
}
