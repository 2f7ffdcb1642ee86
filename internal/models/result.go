package models

import (
	"fmt"
	"time"
)

// ExecutionRequest is what the orchestrator hands to an executor for one attempt.
type ExecutionRequest struct {
	TaskID   string         `json:"task_id"`
	TaskType string         `json:"task_type,omitempty"`
	Content  string         `json:"content"`
	Inputs   map[string]any `json:"inputs"`
	Attempt  int            `json:"attempt"`
}

// Outcome is an executor's self-report for one attempt.
type Outcome struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	// Artifacts maps declared output paths to the byte size the executor reports.
	Artifacts map[string]int64 `json:"artifacts,omitempty"`
}

// TaskResult records one dispatched attempt after validation.
type TaskResult struct {
	TaskID    string        // Task that was executed
	TaskType  string        // Informational tag copied from the task
	Attempt   int           // 1-based attempt number
	Status    TaskStatus    // Status after commit: completed, ready (requeued) or failed
	Result    any           // Executor result when completed
	Error     error         // Executor, timeout or validation error
	Requeued  bool          // True when the failure was retried
	Cascaded  []string      // Dependents failed by cascade when this attempt failed permanently
	Duration  time.Duration // Time spent in the executor and validators
	StartedAt time.Time
}

// Succeeded reports whether the attempt completed the task.
func (r TaskResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// ReportOutcome is the final classification of a task in a run summary.
type ReportOutcome string

const (
	OutcomeCompleted ReportOutcome = "completed"
	OutcomeFailed    ReportOutcome = "failed"
	OutcomeCascaded  ReportOutcome = "cascaded"
	OutcomeNotRun    ReportOutcome = "not_run"
)

// TaskReport is the final per-task line of a run summary.
type TaskReport struct {
	ID           string        `json:"id"`
	TaskType     string        `json:"task_type,omitempty"`
	Status       TaskStatus    `json:"status"`
	Outcome      ReportOutcome `json:"outcome"`
	Error        string        `json:"error,omitempty"`
	CascadedFrom string        `json:"cascaded_from,omitempty"`
	RetriesUsed  int           `json:"retries_used"`
}

// String renders the report as "Completed", "Failed (own error)" or
// "Failed (cascaded from <id>)".
func (r TaskReport) String() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeCascaded:
		return fmt.Sprintf("Failed (cascaded from %s)", r.CascadedFrom)
	case OutcomeFailed:
		return "Failed (own error)"
	default:
		return fmt.Sprintf("Not run (%s)", r.Status)
	}
}

// ExecutionResult represents the aggregate result of a workflow run
type ExecutionResult struct {
	RunID      string        // Unique id of this run
	TotalTasks int           // Number of declared tasks
	Completed  int           // Tasks that reached completed
	Failed     int           // Tasks that failed on their own
	Cascaded   int           // Tasks failed by cascade
	NotRun     int           // Tasks never finished because the run was cancelled
	Success    bool          // True when every declared task completed
	Cancelled  bool          // True when the run stopped before quiescence
	Duration   time.Duration // Total execution time
	Tasks      []TaskReport  // One entry per declared task, declaration order
	Attempts   []TaskResult  // Every dispatched attempt, commit order
	Results    map[string]any
}

// FailedTasks returns the reports that did not complete.
func (r *ExecutionResult) FailedTasks() []TaskReport {
	var out []TaskReport
	for _, t := range r.Tasks {
		if t.Outcome == OutcomeFailed || t.Outcome == OutcomeCascaded {
			out = append(out, t)
		}
	}
	return out
}

// BlockedReport splits blocked tasks by whether they can still run.
type BlockedReport struct {
	Pending []string // Some dependency has not finished yet
	Failed  []string // Some dependency failed permanently; reported as skipped
}

// StatusCounts tallies tasks per status.
type StatusCounts map[TaskStatus]int
