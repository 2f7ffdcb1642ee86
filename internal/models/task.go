package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskStatus is the scheduling state of a task record.
type TaskStatus string

// Task status constants
const (
	StatusPending    TaskStatus = "pending"     // Declared, not yet classified
	StatusBlocked    TaskStatus = "blocked"     // Waiting on at least one dependency
	StatusReady      TaskStatus = "ready"       // Every dependency completed
	StatusInProgress TaskStatus = "in_progress" // Claimed by the orchestrator
	StatusCompleted  TaskStatus = "completed"   // Executed and validated
	StatusFailed     TaskStatus = "failed"      // Own failure or cascaded from an ancestor
)

// IsTerminal reports whether the status is final for this run.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusBlocked, StatusReady, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Priority is a tie-breaking hint; higher runs first.
type Priority int

// Named priorities accepted in workflow declarations.
const (
	PriorityLow    Priority = -1
	PriorityMedium Priority = 0
	PriorityHigh   Priority = 1
)

// ParsePriority accepts an integer or one of low, medium, high.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "medium", "normal":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid priority %q: must be an integer or low/medium/high", s)
	}
	return Priority(n), nil
}

// UnmarshalYAML lets declarations use either named or numeric priorities.
func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: priority must be a scalar", value.Line)
	}
	parsed, err := ParsePriority(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*p = parsed
	return nil
}

// FailureKind classifies why a task ended Failed.
type FailureKind string

const (
	FailureExecutor   FailureKind = "executor"
	FailureTimeout    FailureKind = "timeout"
	FailureValidation FailureKind = "validation"
	FailureCascade    FailureKind = "cascade"
)

// Failure is the structured failure reason stored on a failed task.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Ancestor string      `json:"ancestor,omitempty"` // set for cascade failures
}

// Task represents one node of a workflow graph.
type Task struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      TaskStatus `json:"status"`
	TaskType    string     `json:"task_type,omitempty"`
	Produces    string     `json:"produces,omitempty"`
	Target      *Target    `json:"target,omitempty"`
	ResultKey   string     `json:"result_key,omitempty"`
	CanParallel bool       `json:"can_parallel"`
	Priority    Priority   `json:"priority"`
	RetriesUsed int        `json:"retries_used"`
	MaxRetries  int        `json:"max_retries"`

	Result      any        `json:"result,omitempty"`
	Failure     *Failure   `json:"failure,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask returns a pending task with default flags.
func NewTask(id, content string, dependsOn ...string) Task {
	return Task{
		ID:          id,
		Content:     content,
		DependsOn:   dependsOn,
		Status:      StatusPending,
		CanParallel: true,
	}
}

// Key returns the name this task's result is exposed under.
func (t *Task) Key() string {
	if t.ResultKey != "" {
		return t.ResultKey
	}
	return t.ID
}

// CascadedFrom returns the ancestor id when the task failed by cascade.
func (t *Task) CascadedFrom() string {
	if t.Failure != nil && t.Failure.Kind == FailureCascade {
		return t.Failure.Ancestor
	}
	return ""
}

// Validate checks the declaration fields of a task
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(t.Content) == "" {
		return errors.New("task content is required")
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("unknown status %q", t.Status)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", t.MaxRetries)
	}

	seen := make(map[string]bool, len(t.DependsOn))
	for _, dep := range t.DependsOn {
		if strings.TrimSpace(dep) == "" {
			return errors.New("depends_on contains an empty id")
		}
		if seen[dep] {
			return fmt.Errorf("depends_on lists %q more than once", dep)
		}
		seen[dep] = true
	}

	if t.Produces != "" {
		if _, err := ParseArtifact(t.Produces); err != nil {
			return fmt.Errorf("produces: %w", err)
		}
	}
	if t.Target != nil {
		if err := t.Target.Validate(); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	return nil
}

// Clone returns a copy that shares no slices with t.
func (t Task) Clone() Task {
	c := t
	if t.DependsOn != nil {
		c.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Target != nil {
		target := *t.Target
		c.Target = &target
	}
	if t.Failure != nil {
		failure := *t.Failure
		c.Failure = &failure
	}
	return c
}
