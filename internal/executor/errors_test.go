package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

func TestExecutionPhaseString(t *testing.T) {
	tests := []struct {
		phase ExecutionPhase
		want  string
	}{
		{PhaseBuild, "build"},
		{PhaseDispatch, "dispatch"},
		{PhaseValidation, "validation"},
		{PhaseCascade, "cascade"},
		{ExecutionPhase(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("ExecutionPhase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"cycle", &CycleError{Path: []string{"a", "b", "a"}}, "dependency cycle: a -> b -> a"},
		{"unknown dependency", &UnknownDependencyError{TaskID: "b", Dependency: "x"}, "task b: depends on non-existent task x"},
		{"duplicate key", &DuplicateResultKeyError{Key: "k", Tasks: []string{"a", "b"}}, `result key "k" is claimed by tasks a, b`},
		{"executor with message", &ExecutorError{TaskID: "a", Attempt: 2, Message: "exit status 1"}, "task a attempt 2: exit status 1"},
		{"executor without message", &ExecutorError{TaskID: "a", Attempt: 1}, "task a attempt 1: executor reported failure"},
		{"timeout", NewTimeoutError("a", 5*time.Second), "task a: timeout after 5s"},
		{"cascade", &CascadeBlockedError{TaskID: "c", Ancestor: "a"}, "task c: skipped, dependency a failed"},
		{"task error", NewTaskError("a", PhaseValidation, "validation failed", errors.New("missing")), "task a: validation failed: missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrapping(t *testing.T) {
	cause := errors.New("root cause")

	if !errors.Is(&ExecutorError{TaskID: "a", Err: cause}, cause) {
		t.Error("ExecutorError should unwrap to its cause")
	}
	if !errors.Is(&ExecutorError{TaskID: "a"}, ErrExecutor) {
		t.Error("ExecutorError should match ErrExecutor")
	}
	if !errors.Is(NewTimeoutError("a", time.Second), context.DeadlineExceeded) {
		t.Error("TimeoutError should match context.DeadlineExceeded")
	}
	if !errors.Is(&InvalidTaskError{TaskID: "a", Err: cause}, cause) {
		t.Error("InvalidTaskError should unwrap to its cause")
	}
	wrapped := fmt.Errorf("outer: %w", NewTaskError("a", PhaseDispatch, "x", cause))
	if !errors.Is(wrapped, cause) {
		t.Error("TaskError should unwrap through fmt wrapping")
	}
}

func TestIsTimeoutError(t *testing.T) {
	if IsTimeoutError(nil) {
		t.Error("nil is not a timeout")
	}
	if !IsTimeoutError(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Error("wrapped DeadlineExceeded is a timeout")
	}
	if IsTimeoutError(errors.New("other")) {
		t.Error("plain error is not a timeout")
	}
}

func TestFailureFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     models.FailureKind
		ancestor string
	}{
		{"timeout", NewTimeoutError("a", time.Second), models.FailureTimeout, ""},
		{"executor", &ExecutorError{TaskID: "a", Attempt: 1}, models.FailureExecutor, ""},
		{"cascade", &CascadeBlockedError{TaskID: "c", Ancestor: "a"}, models.FailureCascade, "a"},
		{"validation", NewTaskError("a", PhaseValidation, "bad", errors.New("x")), models.FailureValidation, ""},
		{
			"validation command deadline",
			NewTaskError("a", PhaseValidation, "validation failed", fmt.Errorf("exec artifact: %w", context.DeadlineExceeded)),
			models.FailureValidation, "",
		},
		{"dispatch deadline", NewTaskError("a", PhaseDispatch, "resolve inputs", context.DeadlineExceeded), models.FailureTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := failureFor(tt.err)
			if f.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", f.Kind, tt.kind)
			}
			if f.Ancestor != tt.ancestor {
				t.Errorf("Ancestor = %q, want %q", f.Ancestor, tt.ancestor)
			}
			if f.Message != tt.err.Error() {
				t.Errorf("Message = %q, want %q", f.Message, tt.err.Error())
			}
		})
	}
}

func TestTimeoutError_Abandoned(t *testing.T) {
	te := NewTimeoutError("a", time.Second)
	if isAbandoned(te) {
		t.Error("fresh timeout should not be abandoned")
	}
	te.Abandoned = true
	wrapped := fmt.Errorf("attempt: %w", te)
	if !isAbandoned(wrapped) {
		t.Error("wrapped abandoned timeout not detected")
	}
	if !IsTimeoutError(wrapped) {
		t.Error("abandoned timeout should still be a timeout")
	}
	want := "task a: timeout after 1s, executor call abandoned"
	if te.Error() != want {
		t.Errorf("Error() = %q, want %q", te.Error(), want)
	}
}
