// Package state persists execution history and schedules in SQLite.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/conduit-ai/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// timeFormat is the canonical stored timestamp form. RFC 3339 in UTC sorts
// lexicographically, which the quota and usage range queries rely on.
const timeFormat = time.RFC3339Nano

// SQLiteStore implements core.ExecutionStore and core.ScheduleStore on a
// single SQLite database file.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database and applies pending
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL mode so schedule reads don't block execution writes.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Create inserts a new execution record.
func (s *SQLiteStore) Create(ctx context.Context, exec *core.Execution) error {
	inputJSON, err := marshalNullable(exec.Input)
	if err != nil {
		return fmt.Errorf("marshaling input: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, agent_id, user_id, trigger_kind, retry_of, input, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID, exec.AgentID, exec.UserID, string(exec.Trigger),
		nullableString(exec.RetryOf), inputJSON, string(exec.Status),
		exec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// Complete writes the single terminal mutation of an execution record.
func (s *SQLiteStore) Complete(ctx context.Context, id string, status core.ExecutionStatus, finalOutput map[string]any, blockStates map[string]core.BlockState, errText string, completedAt time.Time) error {
	outputJSON, err := marshalNullable(finalOutput)
	if err != nil {
		return fmt.Errorf("marshaling final output: %w", err)
	}
	var statesJSON sql.NullString
	if len(blockStates) > 0 {
		b, err := json.Marshal(blockStates)
		if err != nil {
			return fmt.Errorf("marshaling block states: %w", err)
		}
		statesJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?, final_output = ?, block_states = ?, error = ?, completed_at = ?
		WHERE id = ?
	`,
		string(status), outputJSON, statesJSON, nullableString(errText),
		completedAt.UTC().Format(timeFormat), id,
	)
	if err != nil {
		return fmt.Errorf("completing execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound(core.CodeExecutionNotFound, "execution", id)
	}
	return nil
}

// Get fetches an execution by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*core.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_id, trigger_kind, retry_of, input, status,
		       block_states, final_output, error, created_at, completed_at
		FROM executions WHERE id = ?
	`, id)

	var (
		exec                              core.Execution
		trigger, status, createdAt        string
		retryOf, errText, completedAt     sql.NullString
		inputJSON, statesJSON, outputJSON sql.NullString
	)
	err := row.Scan(&exec.ID, &exec.AgentID, &exec.UserID, &trigger, &retryOf,
		&inputJSON, &status, &statesJSON, &outputJSON, &errText, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound(core.CodeExecutionNotFound, "execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning execution: %w", err)
	}

	exec.Trigger = core.TriggerKind(trigger)
	exec.Status = core.ExecutionStatus(status)
	exec.RetryOf = retryOf.String
	exec.Error = errText.String
	if exec.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(timeFormat, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		exec.CompletedAt = &t
	}
	if err := unmarshalNullable(inputJSON, &exec.Input); err != nil {
		return nil, fmt.Errorf("unmarshaling input: %w", err)
	}
	if err := unmarshalNullable(statesJSON, &exec.BlockStates); err != nil {
		return nil, fmt.Errorf("unmarshaling block states: %w", err)
	}
	if err := unmarshalNullable(outputJSON, &exec.FinalOutput); err != nil {
		return nil, fmt.Errorf("unmarshaling final output: %w", err)
	}
	return &exec, nil
}

// CountCreatedSince counts the user's executions created at or after since.
func (s *SQLiteStore) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions WHERE user_id = ? AND created_at >= ?
	`, userID, since.UTC().Format(timeFormat)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting executions: %w", err)
	}
	return n, nil
}

// CreateSchedule inserts a schedule. A second schedule for the same agent
// violates the UNIQUE constraint and surfaces as a conflict.
func (s *SQLiteStore) CreateSchedule(ctx context.Context, sched *core.Schedule) error {
	inputJSON, err := marshalNullable(sched.Input)
	if err != nil {
		return fmt.Errorf("marshaling schedule input: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, agent_id, user_id, cron_expr, timezone, input, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sched.ID, sched.AgentID, sched.UserID, sched.CronExpr, sched.Timezone,
		inputJSON, sched.CreatedAt.UTC().Format(timeFormat), sched.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.ErrConflict(core.CodeScheduleExists,
				fmt.Sprintf("agent %s already has a schedule", sched.AgentID))
		}
		return fmt.Errorf("inserting schedule: %w", err)
	}
	return nil
}

// UpdateSchedule rewrites the agent's schedule definition.
func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sched *core.Schedule) error {
	inputJSON, err := marshalNullable(sched.Input)
	if err != nil {
		return fmt.Errorf("marshaling schedule input: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET cron_expr = ?, timezone = ?, input = ?, updated_at = ?
		WHERE agent_id = ?
	`,
		sched.CronExpr, sched.Timezone, inputJSON,
		sched.UpdatedAt.UTC().Format(timeFormat), sched.AgentID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound(core.CodeScheduleNotFound, "schedule", sched.AgentID)
	}
	return nil
}

// DeleteSchedule removes the agent's schedule.
func (s *SQLiteStore) DeleteSchedule(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE agent_id = ?", agentID)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound(core.CodeScheduleNotFound, "schedule", agentID)
	}
	return nil
}

// GetScheduleByAgentID returns the agent's schedule, or nil when none exists.
func (s *SQLiteStore) GetScheduleByAgentID(ctx context.Context, agentID string) (*core.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, user_id, cron_expr, timezone, input, created_at, updated_at
		FROM schedules WHERE agent_id = ?
	`, agentID)
	sched, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sched, err
}

// ListSchedules returns every schedule.
func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*core.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, user_id, cron_expr, timezone, input, created_at, updated_at
		FROM schedules ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*core.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// CountScheduleRunsSince counts the user's scheduled executions created at or
// after since.
func (s *SQLiteStore) CountScheduleRunsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions
		WHERE user_id = ? AND trigger_kind = ? AND created_at >= ?
	`, userID, string(core.TriggerScheduled), since.UTC().Format(timeFormat)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting scheduled runs: %w", err)
	}
	return n, nil
}

// ScheduleStore adapts SQLiteStore to the core.ScheduleStore port, whose
// method names are store-generic.
type ScheduleStore struct {
	*SQLiteStore
}

// Schedules returns the schedule-port view of the store.
func (s *SQLiteStore) Schedules() *ScheduleStore {
	return &ScheduleStore{SQLiteStore: s}
}

func (s *ScheduleStore) Create(ctx context.Context, sched *core.Schedule) error {
	return s.CreateSchedule(ctx, sched)
}

func (s *ScheduleStore) Update(ctx context.Context, sched *core.Schedule) error {
	return s.UpdateSchedule(ctx, sched)
}

func (s *ScheduleStore) Delete(ctx context.Context, agentID string) error {
	return s.DeleteSchedule(ctx, agentID)
}

func (s *ScheduleStore) GetByAgentID(ctx context.Context, agentID string) (*core.Schedule, error) {
	return s.GetScheduleByAgentID(ctx, agentID)
}

func (s *ScheduleStore) ListAll(ctx context.Context) ([]*core.Schedule, error) {
	return s.ListSchedules(ctx)
}

func (s *ScheduleStore) CountTriggeredSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return s.CountScheduleRunsSince(ctx, userID, since)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*core.Schedule, error) {
	var (
		sched                core.Schedule
		inputJSON            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&sched.ID, &sched.AgentID, &sched.UserID, &sched.CronExpr,
		&sched.Timezone, &inputJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if sched.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sched.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if err := unmarshalNullable(inputJSON, &sched.Input); err != nil {
		return nil, fmt.Errorf("unmarshaling schedule input: %w", err)
	}
	return &sched, nil
}

func marshalNullable(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable[T any](s sql.NullString, dst *T) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
