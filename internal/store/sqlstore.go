// Package store provides the single concrete data-access implementation
// backing both the tasks.Store and usagelimit.Store facades (§6). It is
// the only package that imports both tasks and usagelimit, keeping
// those two domain packages decoupled from each other.
//
// Grounded in the teacher's internal/tasks.Store (upsert via
// ON CONFLICT DO UPDATE, sql.Null* scanning, RecordHistory) and
// internal/memory.SQLiteMemoryDB (WAL-mode connection string,
// go:embed schema, migrate-on-open), generalized from mattn/go-sqlite3
// (cgo) to modernc.org/sqlite (pure Go) so the binary stays
// cross-compile-friendly.
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/presidium/orchestrator/internal/tasks"
	"github.com/presidium/orchestrator/internal/usagelimit"
)

//go:embed schema.sql
var schemaSQL string

// SQLStore implements tasks.Store and usagelimit.Store over a single
// SQLite database file.
type SQLStore struct {
	db   *sql.DB
	path string
}

// Open creates (or reopens) the database at path, in WAL mode, and
// applies the schema.
func Open(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, path: path}
	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DatabaseSize returns the on-disk size of the database file in bytes,
// for display on the stats endpoint.
func (s *SQLStore) DatabaseSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// Initialize applies the schema; safe to call repeatedly.
func (s *SQLStore) Initialize() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck pings the underlying connection.
func (s *SQLStore) HealthCheck() error {
	return s.db.Ping()
}

// Disconnect closes the database.
func (s *SQLStore) Disconnect() error {
	return s.db.Close()
}

const taskColumns = `id, title, description, project_name, deliverables, status, assigned_to,
		retry_count, last_attempt_at, paused_reason, failure_reason, error_history,
		created_at, updated_at, cancelled_at`

// CreateTask and UpdateTask both upsert; the facade's distinct names
// reflect caller intent (§6), not distinct SQL paths.
func (s *SQLStore) CreateTask(task *tasks.Task) error {
	return s.saveTask(task)
}

func (s *SQLStore) UpdateTask(task *tasks.Task) error {
	return s.saveTask(task)
}

func (s *SQLStore) saveTask(t *tasks.Task) error {
	deliverables, _ := json.Marshal(t.Deliverables)
	errorHistory, _ := json.Marshal(t.ErrorHistory)

	_, err := s.db.Exec(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			project_name=excluded.project_name,
			deliverables=excluded.deliverables,
			status=excluded.status,
			assigned_to=excluded.assigned_to,
			retry_count=excluded.retry_count,
			last_attempt_at=excluded.last_attempt_at,
			paused_reason=excluded.paused_reason,
			failure_reason=excluded.failure_reason,
			error_history=excluded.error_history,
			updated_at=excluded.updated_at,
			cancelled_at=excluded.cancelled_at
	`,
		t.ID, t.Title, t.Description, nullString(t.ProjectName), string(deliverables),
		string(t.Status), nullString(t.AssignedTo), t.RetryCount, nullTime(t.LastAttemptAt),
		nullString(t.PausedReason), nullString(t.FailureReason), string(errorHistory),
		t.CreatedAt, t.UpdatedAt, nullTime(t.CancelledAt),
	)
	return err
}

func (s *SQLStore) GetTaskByID(id string) (*tasks.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SQLStore) GetAllTasks() ([]*tasks.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLStore) GetTasksByStatus(status tasks.Status) ([]*tasks.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *SQLStore) GetTaskCounts() (map[tasks.Status]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[tasks.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[tasks.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLStore) DeleteTask(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

func (s *SQLStore) RecordTransition(taskID string, from, to tasks.Status, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO task_history (task_id, from_status, to_status, reason, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, string(from), string(to), reason, time.Now())
	return err
}

func scanTask(row *sql.Row) (*tasks.Task, error) {
	var t tasks.Task
	var status string
	var projectName, assignedTo, pausedReason, failureReason sql.NullString
	var deliverables, errorHistory sql.NullString
	var lastAttemptAt, cancelledAt sql.NullTime

	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &projectName, &deliverables, &status, &assignedTo,
		&t.RetryCount, &lastAttemptAt, &pausedReason, &failureReason, &errorHistory,
		&t.CreatedAt, &t.UpdatedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}
	t.Status = tasks.Status(status)
	applyTaskScan(&t, projectName, assignedTo, pausedReason, failureReason, deliverables, errorHistory, lastAttemptAt, cancelledAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*tasks.Task, error) {
	var out []*tasks.Task
	for rows.Next() {
		var t tasks.Task
		var status string
		var projectName, assignedTo, pausedReason, failureReason sql.NullString
		var deliverables, errorHistory sql.NullString
		var lastAttemptAt, cancelledAt sql.NullTime

		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &projectName, &deliverables, &status, &assignedTo,
			&t.RetryCount, &lastAttemptAt, &pausedReason, &failureReason, &errorHistory,
			&t.CreatedAt, &t.UpdatedAt, &cancelledAt,
		); err != nil {
			return nil, err
		}
		t.Status = tasks.Status(status)
		applyTaskScan(&t, projectName, assignedTo, pausedReason, failureReason, deliverables, errorHistory, lastAttemptAt, cancelledAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func applyTaskScan(t *tasks.Task, projectName, assignedTo, pausedReason, failureReason, deliverables, errorHistory sql.NullString, lastAttemptAt, cancelledAt sql.NullTime) {
	if projectName.Valid {
		t.ProjectName = projectName.String
	}
	if assignedTo.Valid {
		t.AssignedTo = assignedTo.String
	}
	if pausedReason.Valid {
		t.PausedReason = pausedReason.String
	}
	if failureReason.Valid {
		t.FailureReason = failureReason.String
	}
	if lastAttemptAt.Valid {
		tm := lastAttemptAt.Time
		t.LastAttemptAt = &tm
	}
	if cancelledAt.Valid {
		tm := cancelledAt.Time
		t.CancelledAt = &tm
	}
	if deliverables.Valid && deliverables.String != "" {
		json.Unmarshal([]byte(deliverables.String), &t.Deliverables)
	}
	if errorHistory.Valid && errorHistory.String != "" {
		json.Unmarshal([]byte(errorHistory.String), &t.ErrorHistory)
	}
}

// app_settings: also backs the monotonic task-ID counter (§6).

func (s *SQLStore) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

const taskIDCounterKey = "task_id_counter"

// IncrementTaskIDCounter atomically bumps and returns the task ID
// counter backing new task IDs, inside its own transaction so
// concurrent callers never observe the same value twice.
func (s *SQLStore) IncrementTaskIDCounter() (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, taskIDCounterKey).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	next := current + 1

	if _, err := tx.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, taskIDCounterKey, fmt.Sprintf("%d", next)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// Usage-limit state: a singleton row (id=1).

func (s *SQLStore) GetUsageLimitState() (*usagelimit.State, error) {
	var st usagelimit.State
	var isLimited int
	var pausedAt, nextRetryAt sql.NullTime
	var lastErrorMessage sql.NullString

	err := s.db.QueryRow(`
		SELECT is_limited, paused_at, next_retry_at, retry_count, last_error_message
		FROM usage_limit_state WHERE id = 1
	`).Scan(&isLimited, &pausedAt, &nextRetryAt, &st.RetryCount, &lastErrorMessage)
	if err == sql.ErrNoRows {
		return &usagelimit.State{}, nil
	}
	if err != nil {
		return nil, err
	}

	st.IsLimited = isLimited != 0
	if pausedAt.Valid {
		tm := pausedAt.Time
		st.PausedAt = &tm
	}
	if nextRetryAt.Valid {
		tm := nextRetryAt.Time
		st.NextRetryAt = &tm
	}
	if lastErrorMessage.Valid {
		st.LastErrorMessage = lastErrorMessage.String
	}
	return &st, nil
}

func (s *SQLStore) SaveUsageLimitState(st *usagelimit.State) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_limit_state (id, is_limited, paused_at, next_retry_at, retry_count, last_error_message)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			is_limited=excluded.is_limited,
			paused_at=excluded.paused_at,
			next_retry_at=excluded.next_retry_at,
			retry_count=excluded.retry_count,
			last_error_message=excluded.last_error_message
	`, boolToInt(st.IsLimited), nullTime(st.PausedAt), nullTime(st.NextRetryAt), st.RetryCount, nullString(st.LastErrorMessage))
	return err
}

func (s *SQLStore) ClearUsageLimitState() error {
	return s.SaveUsageLimitState(&usagelimit.State{})
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
