package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const bucketSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	model               TEXT    NOT NULL,
	variant             TEXT    NOT NULL,
	reliability         TEXT    NOT NULL,
	difficulty          TEXT    NOT NULL,
	task_type           TEXT    NOT NULL,
	total               INTEGER NOT NULL,
	full_success        INTEGER NOT NULL,
	partial_success     INTEGER NOT NULL,
	failure             INTEGER NOT NULL,
	error_categories    TEXT,
	turns_sum           INTEGER NOT NULL,
	tool_calls_sum      INTEGER NOT NULL,
	input_tokens_sum    INTEGER NOT NULL,
	output_tokens_sum   INTEGER NOT NULL,
	duration_ms_sum     INTEGER NOT NULL,
	model_time_ms_sum   INTEGER NOT NULL,
	limiter_wait_ms_sum INTEGER NOT NULL,
	composite_sum       REAL    NOT NULL,
	PRIMARY KEY (model, variant, reliability, difficulty, task_type)
)`

const bucketUpsert = `
INSERT INTO buckets (
	model, variant, reliability, difficulty, task_type,
	total, full_success, partial_success, failure, error_categories,
	turns_sum, tool_calls_sum, input_tokens_sum, output_tokens_sum,
	duration_ms_sum, model_time_ms_sum, limiter_wait_ms_sum, composite_sum
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (model, variant, reliability, difficulty, task_type) DO UPDATE SET
	total               = excluded.total,
	full_success        = excluded.full_success,
	partial_success     = excluded.partial_success,
	failure             = excluded.failure,
	error_categories    = excluded.error_categories,
	turns_sum           = excluded.turns_sum,
	tool_calls_sum      = excluded.tool_calls_sum,
	input_tokens_sum    = excluded.input_tokens_sum,
	output_tokens_sum   = excluded.output_tokens_sum,
	duration_ms_sum     = excluded.duration_ms_sum,
	model_time_ms_sum   = excluded.model_time_ms_sum,
	limiter_wait_ms_sum = excluded.limiter_wait_ms_sum,
	composite_sum       = excluded.composite_sum`

// ExportSQLite writes the aggregated buckets to a columnar table, one row
// per leaf, upserting over any previous export. Only aggregates leave the
// store; raw per-instance results never do.
func ExportSQLite(ctx context.Context, path string, store *Store) error {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("open sqlite export: %w", err)
	}
	defer db.Close()
	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite export: %w", err)
	}
	if _, err := db.ExecContext(ctx, bucketSchema); err != nil {
		return fmt.Errorf("create buckets table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, bucketUpsert)
	if err != nil {
		return fmt.Errorf("prepare bucket upsert: %w", err)
	}
	defer stmt.Close()

	var execErr error
	store.Walk(func(key Key, b Bucket) {
		if execErr != nil {
			return
		}
		var categories any
		if len(b.ErrorCategories) > 0 {
			data, err := json.Marshal(b.ErrorCategories)
			if err != nil {
				execErr = fmt.Errorf("encode error categories: %w", err)
				return
			}
			categories = string(data)
		}
		if _, err := stmt.ExecContext(ctx,
			key.Model, key.Variant, key.Reliability, key.Difficulty, key.TaskType,
			b.Total, b.FullSuccess, b.PartialSuccess, b.Failure, categories,
			b.TurnsSum, b.ToolCallsSum, b.InputTokensSum, b.OutputTokensSum,
			b.DurationMSSum, b.ModelTimeMSSum, b.LimiterWaitMSSum, b.CompositeSum,
		); err != nil {
			execErr = fmt.Errorf("upsert bucket %s/%s/%s/%s/%s: %w",
				key.Model, key.Variant, key.Reliability, key.Difficulty, key.TaskType, err)
		}
	})
	if execErr != nil {
		return execErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit export tx: %w", err)
	}
	return nil
}
