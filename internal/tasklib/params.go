package tasklib

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Record holds named parameter values for one task instance.
type Record map[string]string

// ParamFeed supplies per-instance parameter records in deterministic
// round-robin order, cycling when instances outnumber records.
// Implementations are safe for concurrent workers.
type ParamFeed interface {
	Next(ctx context.Context) (Record, error)
	Len() int
	Close() error
}

// NewParamFeed opens a parameter file, picking the decoder by extension
// (.csv, or .json holding an array of objects).
func NewParamFeed(path string) (ParamFeed, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return newCSVFeed(path)
	case ".json":
		return newJSONFeed(path)
	default:
		return nil, fmt.Errorf("tasklib: unsupported parameter file %s", path)
	}
}

// memoryFeed cycles over an in-memory record list.
type memoryFeed struct {
	records []Record
	index   int
	mu      sync.Mutex
}

func (f *memoryFeed) Next(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	record := f.records[f.index%len(f.records)]
	f.index++
	return record, nil
}

func (f *memoryFeed) Len() int { return len(f.records) }

func (f *memoryFeed) Close() error { return nil }

func newCSVFeed(path string) (*memoryFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parameter file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read parameter CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("parameter CSV %s needs a header row and at least one data row", path)
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, fmt.Errorf("parameter CSV row %d has %d fields, expected %d", i+2, len(row), len(header))
		}
		record := make(Record, len(header))
		for j, field := range header {
			record[field] = row[j]
		}
		records = append(records, record)
	}
	return &memoryFeed{records: records}, nil
}

func newJSONFeed(path string) (*memoryFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parameter file: %w", err)
	}
	defer file.Close()

	var raw []map[string]any
	if err := json.NewDecoder(file).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode parameter JSON: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("parameter JSON %s contains an empty array", path)
	}

	records := make([]Record, 0, len(raw))
	for _, m := range raw {
		record := make(Record, len(m))
		for key, value := range m {
			record[key] = fmt.Sprintf("%v", value)
		}
		records = append(records, record)
	}
	return &memoryFeed{records: records}, nil
}

// Render replaces every {{field}} placeholder in the template with the
// record's value. Unknown placeholders are left unchanged so a missing
// parameter is visible in the transcript instead of silently vanishing.
func Render(template string, record Record) string {
	result := template
	for key, value := range record {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// Instance returns the record merged with the instance's own fields.
// Record values win so a parameter file can pin any builtin field.
func Instance(record Record, builtin Record) Record {
	merged := make(Record, len(record)+len(builtin))
	for key, value := range builtin {
		merged[key] = value
	}
	for key, value := range record {
		merged[key] = value
	}
	return merged
}
