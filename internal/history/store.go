// Package history records workflow runs and every task attempt in a SQLite
// database so past runs can be listed and inspected.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/taskgraph/internal/models"
)

// Run status values stored in the runs table.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// Run is one row of the runs table.
type Run struct {
	ID         string
	Workflow   string
	TotalTasks int
	Completed  int
	Failed     int
	Cascaded   int
	NotRun     int
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Duration   time.Duration
}

// Attempt is one dispatched task attempt.
type Attempt struct {
	ID         int64
	RunID      string
	TaskID     string
	TaskType   string
	Attempt    int
	Status     models.TaskStatus
	Requeued   bool
	Error      string
	ResultJSON string
	Cascaded   []string
	Duration   time.Duration
	StartedAt  time.Time
}

// Store manages the SQLite history database. It satisfies executor.Recorder.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the database at dbPath and applies
// pending migrations. ":memory:" opens a private in-memory database.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.dbPath }

// StartRun inserts a run in the running state.
func (s *Store) StartRun(ctx context.Context, runID, workflow string, totalTasks int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, workflow, total_tasks, status, started_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET workflow = excluded.workflow, total_tasks = excluded.total_tasks, status = excluded.status`,
		runID, workflow, totalTasks, RunRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordAttempt stores one committed attempt. The run row is created if
// StartRun was never called for runID.
func (s *Store) RecordAttempt(ctx context.Context, runID string, result models.TaskResult) error {
	started := result.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		runID, RunRunning, started.UTC()); err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}

	errMsg := ""
	if result.Error != nil {
		errMsg = result.Error.Error()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO attempts (run_id, task_id, task_type, attempt, status, requeued, error_message, result_json, cascaded, duration_ms, started_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, result.TaskID, result.TaskType, result.Attempt, string(result.Status), result.Requeued,
		errMsg, encodeResult(result.Result), strings.Join(result.Cascaded, ","),
		result.Duration.Milliseconds(), started.UTC())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// FinishRun stores the final counts and per-task outcomes of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, result models.ExecutionResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		runID, RunRunning, now.Add(-result.Duration)); err != nil {
		return fmt.Errorf("ensure run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE runs SET total_tasks = ?, completed = ?, failed = ?, cascaded = ?, not_run = ?,
    status = ?, finished_at = ?, duration_ms = ?
WHERE id = ?`,
		result.TotalTasks, result.Completed, result.Failed, result.Cascaded, result.NotRun,
		runStatus(result), now, result.Duration.Milliseconds(), runID); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	for _, report := range result.Tasks {
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO task_outcomes (run_id, task_id, task_type, status, outcome, error_message, cascaded_from, retries_used)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, report.ID, report.TaskType, string(report.Status), string(report.Outcome),
			report.Error, report.CascadedFrom, report.RetriesUsed); err != nil {
			return fmt.Errorf("insert task outcome %s: %w", report.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func runStatus(result models.ExecutionResult) string {
	switch {
	case result.Cancelled:
		return RunCancelled
	case result.Success:
		return RunSucceeded
	default:
		return RunFailed
	}
}

func encodeResult(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

const runColumns = `id, workflow, total_tasks, completed, failed, cascaded, not_run, status, started_at, finished_at, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run        Run
		finishedAt sql.NullTime
		durationMS int64
	)
	if err := row.Scan(&run.ID, &run.Workflow, &run.TotalTasks, &run.Completed, &run.Failed,
		&run.Cascaded, &run.NotRun, &run.Status, &run.StartedAt, &finishedAt, &durationMS); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	return run, nil
}

// RunAttempts returns the attempts of a run in commit order.
func (s *Store) RunAttempts(ctx context.Context, runID string) ([]*Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, task_id, task_type, attempt, status, requeued, error_message, result_json, cascaded, duration_ms, started_at
FROM attempts WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		var (
			a          Attempt
			status     string
			cascaded   string
			durationMS int64
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.TaskID, &a.TaskType, &a.Attempt, &status, &a.Requeued,
			&a.Error, &a.ResultJSON, &cascaded, &durationMS, &a.StartedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Status = models.TaskStatus(status)
		if cascaded != "" {
			a.Cascaded = strings.Split(cascaded, ",")
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return attempts, nil
}

// RunTasks returns the final per-task outcomes of a finished run.
func (s *Store) RunTasks(ctx context.Context, runID string) ([]models.TaskReport, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, task_type, status, outcome, error_message, cascaded_from, retries_used
FROM task_outcomes WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query task outcomes: %w", err)
	}
	defer rows.Close()

	var reports []models.TaskReport
	for rows.Next() {
		var (
			r       models.TaskReport
			status  string
			outcome string
		)
		if err := rows.Scan(&r.ID, &r.TaskType, &status, &outcome, &r.Error, &r.CascadedFrom, &r.RetriesUsed); err != nil {
			return nil, fmt.Errorf("scan task outcome: %w", err)
		}
		r.Status = models.TaskStatus(status)
		r.Outcome = models.ReportOutcome(outcome)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task outcomes: %w", err)
	}
	return reports, nil
}
