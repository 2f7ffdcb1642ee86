package validation

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every error this package returns for a task
// whose output does not satisfy its declaration.
var ErrValidation = errors.New("validation failed")

// ArtifactMissingError reports a declared artifact that does not exist.
type ArtifactMissingError struct {
	Produces string
	Path     string // empty for data/metrics artifacts
}

func (e *ArtifactMissingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("artifact %q: result is empty", e.Produces)
	}
	return fmt.Sprintf("artifact not found: %s (declared produces=%q)", e.Path, e.Produces)
}

func (e *ArtifactMissingError) Unwrap() error { return ErrValidation }

// ArtifactInvalidError reports an artifact that exists but fails a content check.
type ArtifactInvalidError struct {
	Path   string
	Reason string
}

func (e *ArtifactInvalidError) Error() string {
	return fmt.Sprintf("artifact %s is invalid: %s", e.Path, e.Reason)
}

func (e *ArtifactInvalidError) Unwrap() error { return ErrValidation }

// CommandFailedError reports an exec artifact whose command did not exit 0.
type CommandFailedError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CommandFailedError) Unwrap() []error { return []error{ErrValidation, e.Err} }

// MissingMetricError reports a target metric absent from the result.
type MissingMetricError struct {
	Metric string
	Source string // "result" or a file path
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("metric %q not found in %s", e.Metric, e.Source)
}

func (e *MissingMetricError) Unwrap() error { return ErrValidation }

// TypeMismatchError reports a measured value that cannot be compared with the target.
type TypeMismatchError struct {
	Metric string
	Value  any
	Want   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("metric %q: cannot compare %T value %v as %s", e.Metric, e.Value, e.Value, e.Want)
}

func (e *TypeMismatchError) Unwrap() error { return ErrValidation }

// TargetNotMetError reports a comparison that evaluated to false.
type TargetNotMetError struct {
	Metric   string
	Actual   any
	Operator string
	Expected any
}

func (e *TargetNotMetError) Error() string {
	return fmt.Sprintf("target not met: %s=%v (required %s %v)", e.Metric, e.Actual, e.Operator, e.Expected)
}

func (e *TargetNotMetError) Unwrap() error { return ErrValidation }
