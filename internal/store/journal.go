package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/weft-run/weft/internal/streaming"
	"github.com/weft-run/weft/pkg/schema"
)

// Journal is the durable audit trail, backed by libSQL (embedded SQLite
// fork). It records every published event with a per-execution monotonic
// sequence, and keeps an execution snapshot table updated from
// snapshot-bearing events. It implements streaming.Sink so it can sit in a
// Fanout next to the live hub.
type Journal struct {
	db *sql.DB
}

// NewJournal opens a libSQL database at the given path and applies pending
// migrations. The path should be a file URI, e.g. "file:/path/to/db.db".
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	j := &Journal{db: db}
	if err := j.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (j *Journal) DB() *sql.DB { return j.db }

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Migrate runs all pending database migrations.
func (j *Journal) Migrate(ctx context.Context) error {
	return runMigrations(ctx, j.db)
}

// Vacuum runs VACUUM on the database.
func (j *Journal) Vacuum(ctx context.Context) error {
	_, err := j.db.ExecContext(ctx, "VACUUM")
	return err
}

// Publish records the event and, when its payload carries an execution
// snapshot, upserts the snapshot table. Implements streaming.Sink.
func (j *Journal) Publish(ctx context.Context, event schema.Event) error {
	if err := j.Append(ctx, &event); err != nil {
		return err
	}
	if exec, ok := executionFromPayload(event.Payload); ok {
		return j.SaveExecution(ctx, exec)
	}
	return nil
}

// Append writes an event with a monotonically increasing per-execution
// sequence. The assigned sequence is written back into the event.
func (j *Journal) Append(ctx context.Context, event *schema.Event) error {
	if event.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event has no execution id")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx starts a deferred transaction; force an early
	// write so the sequence read and insert happen under one write lock.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload, err := marshalPayload(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ExecutionID, nullStr(event.WorkflowID), nullStr(event.StepID),
		event.Type, payload, event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns events for an execution with sequence > since, ordered by
// sequence ASC.
func (j *Journal) Events(ctx context.Context, executionID string, since int64) ([]*schema.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT event_id, execution_id, workflow_id, step_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*schema.Event
	for rows.Next() {
		e := &schema.Event{}
		var workflowID, stepID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &workflowID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = workflowID.String
		e.StepID = stepID.String
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Replay rebuilds the step history of an execution from its journaled
// events. Returns an error if sequence gaps are detected.
func (j *Journal) Replay(ctx context.Context, executionID string) ([]schema.StepRecord, error) {
	events, err := j.Events(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	// Validate sequence contiguity.
	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
	}

	var history []schema.StepRecord
	latest := func(stepID string) *schema.StepRecord {
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].StepID == stepID {
				return &history[i]
			}
		}
		return nil
	}

	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		switch e.Type {
		case schema.EventStepStarted:
			history = append(history, schema.StepRecord{
				StepID:    e.StepID,
				StepType:  kindFromPayload(e.Payload),
				Status:    schema.StepRunning,
				StartTime: e.Timestamp,
				Input:     e.Payload["input"],
			})

		case schema.EventStepCompleted:
			if rec := latest(e.StepID); rec != nil && rec.Status == schema.StepRunning {
				rec.Status = schema.StepCompleted
				ts := e.Timestamp
				rec.EndTime = &ts
				rec.Output = e.Payload["output"]
			}

		case schema.EventStepFailed:
			if rec := latest(e.StepID); rec != nil && rec.Status == schema.StepRunning {
				rec.Status = schema.StepFailed
				ts := e.Timestamp
				rec.EndTime = &ts
				if msg, ok := e.Payload["error"].(string); ok {
					rec.Error = msg
				}
				if n, ok := e.Payload["retryCount"].(float64); ok {
					rec.RetryCount = int(n)
				}
			}

		case schema.EventStepSkipped:
			ts := e.Timestamp
			history = append(history, schema.StepRecord{
				StepID:    e.StepID,
				StepType:  kindFromPayload(e.Payload),
				Status:    schema.StepSkipped,
				StartTime: e.Timestamp,
				EndTime:   &ts,
			})
		}
	}
	return history, nil
}

// SaveExecution upserts an execution snapshot.
func (j *Journal) SaveExecution(ctx context.Context, exec *schema.Execution) error {
	snapshot, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, status, snapshot, start_time, end_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, snapshot=excluded.snapshot,
		   end_time=excluded.end_time, updated_at=CURRENT_TIMESTAMP`,
		exec.ID, exec.WorkflowID, string(exec.Status), string(snapshot),
		exec.StartTime, nullTime(exec.EndTime),
	)
	return err
}

// GetExecution reads an execution snapshot back.
func (j *Journal) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	var snapshot string
	err := j.db.QueryRowContext(ctx,
		`SELECT snapshot FROM executions WHERE id = ?`, id,
	).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	exec := &schema.Execution{}
	if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution %s: %w", id, err)
	}
	return exec, nil
}

// HistoryFilter narrows ListExecutions results.
type HistoryFilter struct {
	WorkflowID string
	Status     schema.ExecutionStatus
	Limit      int
}

// ListExecutions returns persisted execution snapshots, newest first.
func (j *Journal) ListExecutions(ctx context.Context, filter HistoryFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT snapshot FROM executions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Execution
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		exec := &schema.Execution{}
		if err := json.Unmarshal([]byte(snapshot), exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution snapshot: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// --- Helpers ---

func marshalPayload(payload map[string]any) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func executionFromPayload(payload map[string]any) (*schema.Execution, bool) {
	raw, ok := payload["execution"]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case *schema.Execution:
		return v, true
	case schema.Execution:
		return &v, true
	}
	// Payload arrived as decoded JSON; round-trip into the typed form.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	exec := &schema.Execution{}
	if err := json.Unmarshal(data, exec); err != nil {
		return nil, false
	}
	return exec, exec.ID != ""
}

func kindFromPayload(payload map[string]any) schema.StepKind {
	if s, ok := payload["stepType"].(string); ok {
		return schema.StepKind(s)
	}
	return ""
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ streaming.Sink = (*Journal)(nil)
