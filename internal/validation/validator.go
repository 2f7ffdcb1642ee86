// Package validation decides whether a task attempt really produced what its
// declaration promised. Executor self-reports are never trusted: artifacts are
// checked on disk and targets are compared against the returned result.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// DefaultExecTimeout bounds exec:<command> artifact checks.
const DefaultExecTimeout = 5 * time.Minute

// maxOutputPreview limits how much command output is kept in errors.
const maxOutputPreview = 200

// Validator runs the artifact check and then the target check of a task.
type Validator struct {
	WorkDir     string        // Base for relative artifact paths
	Runner      CommandRunner // Used by exec artifacts
	ExecTimeout time.Duration
}

// New returns a Validator resolving paths against workDir and running
// exec artifacts through the shell.
func New(workDir string) *Validator {
	return &Validator{
		WorkDir:     workDir,
		Runner:      NewShellCommandRunner(workDir),
		ExecTimeout: DefaultExecTimeout,
	}
}

// Validate checks the declared artifact and target of task against outcome.
func (v *Validator) Validate(ctx context.Context, task models.Task, outcome models.Outcome) error {
	if err := v.ValidateArtifact(ctx, task.Produces, outcome); err != nil {
		return err
	}
	if task.Target != nil {
		return ValidateTarget(*task.Target, outcome.Result)
	}
	return nil
}

// ValidateArtifact checks one produces declaration. An empty declaration passes.
func (v *Validator) ValidateArtifact(ctx context.Context, produces string, outcome models.Outcome) error {
	if strings.TrimSpace(produces) == "" {
		return nil
	}
	artifact, err := models.ParseArtifact(produces)
	if err != nil {
		return &ArtifactInvalidError{Path: produces, Reason: err.Error()}
	}

	switch artifact.Kind {
	case models.ArtifactData, models.ArtifactMetrics:
		if isEmpty(outcome.Result) {
			return &ArtifactMissingError{Produces: produces}
		}
		return nil
	case models.ArtifactFile:
		return v.validateFile(artifact, outcome)
	case models.ArtifactExec:
		return v.validateExec(ctx, artifact.Command)
	case models.ArtifactMetric:
		return v.validateMetric(artifact)
	}
	return fmt.Errorf("unhandled artifact kind %q", artifact.Kind)
}

func (v *Validator) resolve(path string) string {
	if filepath.IsAbs(path) || v.WorkDir == "" {
		return path
	}
	return filepath.Join(v.WorkDir, path)
}

func (v *Validator) validateFile(artifact models.Artifact, outcome models.Outcome) error {
	path := v.resolve(artifact.Path)
	info, err := os.Stat(path)
	if err != nil {
		return &ArtifactMissingError{Produces: artifact.Raw, Path: artifact.Path}
	}
	if info.IsDir() {
		return &ArtifactInvalidError{Path: artifact.Path, Reason: "is a directory"}
	}

	if declared, ok := declaredSize(outcome.Artifacts, artifact.Path, path); ok && info.Size() == 0 {
		return &ArtifactInvalidError{
			Path:   artifact.Path,
			Reason: fmt.Sprintf("file is empty but the executor reported %d bytes", declared),
		}
	}

	return CheckFileContent(path, artifact.ContentType, artifact.Rows)
}

func declaredSize(artifacts map[string]int64, names ...string) (int64, bool) {
	for _, name := range names {
		if size, ok := artifacts[name]; ok {
			return size, true
		}
	}
	return 0, false
}

func (v *Validator) validateExec(ctx context.Context, command string) error {
	timeout := v.ExecTimeout
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runner := v.Runner
	if runner == nil {
		runner = NewShellCommandRunner(v.WorkDir)
	}
	output, err := runner.Run(ctx, command)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %v: %w", timeout, ctx.Err())
	}
	output = strings.TrimSpace(output)
	if len(output) > maxOutputPreview {
		output = output[:maxOutputPreview] + "..."
	}
	return &CommandFailedError{Command: command, Output: output, Err: err}
}

func (v *Validator) validateMetric(artifact models.Artifact) error {
	path := v.resolve(artifact.Path)
	if _, err := os.Stat(path); err != nil {
		return &ArtifactMissingError{Produces: artifact.Raw, Path: artifact.Path}
	}

	var actual any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return &ArtifactInvalidError{Path: artifact.Path, Reason: err.Error()}
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return &ArtifactInvalidError{Path: artifact.Path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		value, ok := Lookup(doc, artifact.Field)
		if !ok || value == nil {
			return &MissingMetricError{Metric: artifact.Field, Source: artifact.Path}
		}
		actual = value
	case ".csv":
		if artifact.Field != "row_count" {
			return &ArtifactInvalidError{
				Path:   artifact.Path,
				Reason: fmt.Sprintf("CSV field %q not supported, use row_count or a JSON file", artifact.Field),
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return &ArtifactInvalidError{Path: artifact.Path, Reason: err.Error()}
		}
		defer f.Close()
		info, err := ReadCSV(f)
		if err != nil {
			return &ArtifactInvalidError{Path: artifact.Path, Reason: err.Error()}
		}
		actual = info.Rows
	default:
		return &ArtifactInvalidError{
			Path:   artifact.Path,
			Reason: fmt.Sprintf("unsupported metric file type %q, use .json or .csv", ext),
		}
	}

	return Compare(artifact.Field, actual, artifact.Operator, artifact.Value)
}

// ValidateTarget checks a target against an executor result, which must be
// a mapping that contains the metric.
func ValidateTarget(target models.Target, result any) error {
	if !isMapping(result) {
		return &MissingMetricError{Metric: target.Metric, Source: "result"}
	}
	measured, ok := Lookup(result, target.Metric)
	if !ok {
		return &MissingMetricError{Metric: target.Metric, Source: "result"}
	}
	return Compare(target.Metric, measured, target.Operator, target.Value)
}

// isEmpty treats nil, empty strings and empty collections as no result.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
