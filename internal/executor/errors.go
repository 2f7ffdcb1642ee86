package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// Sentinel kinds. Every typed error below unwraps to one of these so callers
// can branch with errors.Is without knowing the concrete type.
var (
	ErrInvalidGraph   = errors.New("invalid task graph")
	ErrCycle          = errors.New("dependency cycle")
	ErrUnknownTask    = errors.New("unknown task")
	ErrNotClaimable   = errors.New("task is not ready")
	ErrExecutor       = errors.New("executor failure")
	ErrCascadeBlocked = errors.New("blocked by failed dependency")
	ErrResultExists   = errors.New("result already written")
)

// ExecutionPhase represents the phase of a run where an error occurred.
type ExecutionPhase int

const (
	// PhaseBuild represents errors while constructing the dependency graph.
	PhaseBuild ExecutionPhase = iota
	// PhaseDispatch represents errors while running the executor.
	PhaseDispatch
	// PhaseValidation represents artifact and target validation errors.
	PhaseValidation
	// PhaseCascade represents failures inherited from an ancestor.
	PhaseCascade
)

// String returns the string representation of ExecutionPhase.
func (p ExecutionPhase) String() string {
	switch p {
	case PhaseBuild:
		return "build"
	case PhaseDispatch:
		return "dispatch"
	case PhaseValidation:
		return "validation"
	case PhaseCascade:
		return "cascade"
	default:
		return "unknown"
	}
}

// CycleError reports a dependency cycle found at build time.
type CycleError struct {
	Path []string // e.g. [A B A]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// UnknownDependencyError reports a depends_on entry with no matching task.
type UnknownDependencyError struct {
	TaskID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s: depends on non-existent task %s", e.TaskID, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrInvalidGraph }

// DuplicateResultKeyError reports a result key that would make inputs ambiguous.
type DuplicateResultKeyError struct {
	Key   string
	Tasks []string
}

func (e *DuplicateResultKeyError) Error() string {
	return fmt.Sprintf("result key %q is claimed by tasks %s", e.Key, strings.Join(e.Tasks, ", "))
}

func (e *DuplicateResultKeyError) Unwrap() error { return ErrInvalidGraph }

// DuplicateTaskError reports two declarations with the same id.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s: duplicate task id", e.TaskID)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrInvalidGraph }

// InvalidTaskError wraps a malformed declaration.
type InvalidTaskError struct {
	TaskID string
	Err    error
}

func (e *InvalidTaskError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("invalid task: %v", e.Err)
	}
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *InvalidTaskError) Unwrap() []error { return []error{ErrInvalidGraph, e.Err} }

// TaskError represents an error tied to one task of the run.
// It includes context about which task failed and when.
type TaskError struct {
	TaskID    string         // Task that failed
	Phase     ExecutionPhase // Where it failed
	Message   string         // Human-readable error message
	Err       error          // Underlying error (optional)
	Timestamp time.Time      // When the error occurred
}

// NewTaskError creates a new TaskError with the current timestamp.
func NewTaskError(id string, phase ExecutionPhase, msg string, err error) *TaskError {
	return &TaskError{
		TaskID:    id,
		Phase:     phase,
		Message:   msg,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface for TaskError.
func (e *TaskError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("task %s: %s", e.TaskID, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// ExecutorError is an executor call that errored or reported success=false.
type ExecutorError struct {
	TaskID  string
	Attempt int
	Message string
	Err     error
}

func (e *ExecutorError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "executor reported failure"
	}
	return fmt.Sprintf("task %s attempt %d: %s", e.TaskID, e.Attempt, msg)
}

func (e *ExecutorError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExecutor, e.Err}
	}
	return []error{ErrExecutor}
}

// TimeoutError represents a timeout error during task execution.
type TimeoutError struct {
	TaskID          string        // Task that timed out
	TimeoutDuration time.Duration // Duration after which timeout occurred
	Timestamp       time.Time     // When the timeout occurred
	// Abandoned is set when the executor call had not returned by the end of
	// the grace period and may still be running.
	Abandoned bool
}

// NewTimeoutError creates a new TimeoutError with the current timestamp.
func NewTimeoutError(id string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		TaskID:          id,
		TimeoutDuration: duration,
		Timestamp:       time.Now(),
	}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	if e.Abandoned {
		return fmt.Sprintf("task %s: timeout after %v, executor call abandoned", e.TaskID, e.TimeoutDuration)
	}
	return fmt.Sprintf("task %s: timeout after %v", e.TaskID, e.TimeoutDuration)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// CascadeBlockedError marks a dependent that can never run because an
// ancestor failed permanently. It is never retried.
type CascadeBlockedError struct {
	TaskID   string
	Ancestor string
}

func (e *CascadeBlockedError) Error() string {
	return fmt.Sprintf("task %s: skipped, dependency %s failed", e.TaskID, e.Ancestor)
}

func (e *CascadeBlockedError) Unwrap() error { return ErrCascadeBlocked }

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isAbandoned reports whether err is a timeout whose executor call never returned.
func isAbandoned(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) && te.Abandoned
}

// IsBuildError reports whether err comes from graph construction.
func IsBuildError(err error) bool {
	return errors.Is(err, ErrInvalidGraph) || errors.Is(err, ErrCycle)
}

// failureFor classifies an attempt error into the structured failure stored on the task.
func failureFor(err error) *models.Failure {
	kind := models.FailureValidation
	var ee *ExecutorError
	var ce *CascadeBlockedError
	var te *TaskError
	switch {
	case errors.As(err, &te) && te.Phase == PhaseValidation:
		// A validator that timed out (an exec artifact) is still a validation failure.
	case IsTimeoutError(err):
		kind = models.FailureTimeout
	case errors.As(err, &ee):
		kind = models.FailureExecutor
	case errors.As(err, &ce):
		return &models.Failure{Kind: models.FailureCascade, Message: err.Error(), Ancestor: ce.Ancestor}
	}
	return &models.Failure{Kind: kind, Message: err.Error()}
}
