package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ArtifactKind identifies the form of a produces declaration.
type ArtifactKind string

const (
	ArtifactFile    ArtifactKind = "file"
	ArtifactData    ArtifactKind = "data"
	ArtifactMetrics ArtifactKind = "metrics"
	ArtifactExec    ArtifactKind = "exec"
	ArtifactMetric  ArtifactKind = "metric"
)

// RowSpec constrains the number of data rows in a CSV artifact.
type RowSpec struct {
	Exact int
	Min   int
	Max   int
	Mode  string // "exact", "min", "max" or "" when unconstrained
}

// Artifact is the parsed form of a task's produces declaration.
//
//	data | metrics
//	file:<path>[:<csv|json|text>[:<n>|<n>+|<n>-]]
//	exec:<command>
//	metric:<file>:<field>:<op><value>
type Artifact struct {
	Kind        ArtifactKind
	Raw         string
	Path        string
	ContentType string
	Rows        RowSpec
	Command     string
	Field       string
	Operator    string
	Value       any
}

var metricCheckPattern = regexp.MustCompile(`^(>=|<=|==|!=|>|<)(.+)$`)

var contentTypes = map[string]bool{"csv": true, "json": true, "text": true, "txt": true, "xml": true, "data": true}

// ParseArtifact parses a produces declaration. Unknown forms are rejected.
func ParseArtifact(produces string) (Artifact, error) {
	a := Artifact{Raw: produces}
	trimmed := strings.TrimSpace(produces)

	switch {
	case trimmed == string(ArtifactData):
		a.Kind = ArtifactData
		return a, nil
	case trimmed == string(ArtifactMetrics):
		a.Kind = ArtifactMetrics
		return a, nil
	case strings.HasPrefix(trimmed, "exec:"):
		a.Kind = ArtifactExec
		a.Command = strings.TrimSpace(strings.TrimPrefix(trimmed, "exec:"))
		if a.Command == "" {
			return a, fmt.Errorf("exec artifact %q has no command", produces)
		}
		return a, nil
	case strings.HasPrefix(trimmed, "metric:"):
		return parseMetricArtifact(a, trimmed)
	case strings.HasPrefix(trimmed, "file:"):
		return parseFileArtifact(a, trimmed)
	}
	return a, fmt.Errorf("unsupported artifact %q (expected data, metrics, file:<path>, exec:<cmd> or metric:<file>:<field>:<op><value>)", produces)
}

func parseFileArtifact(a Artifact, s string) (Artifact, error) {
	a.Kind = ArtifactFile
	parts := strings.SplitN(strings.TrimPrefix(s, "file:"), ":", 3)
	a.Path = strings.TrimSpace(parts[0])
	if a.Path == "" {
		return a, fmt.Errorf("file artifact %q has no path", s)
	}
	if len(parts) > 1 {
		a.ContentType = strings.ToLower(strings.TrimSpace(parts[1]))
		if !contentTypes[a.ContentType] {
			return a, fmt.Errorf("file artifact %q: unknown content type %q", s, a.ContentType)
		}
	}
	if len(parts) > 2 {
		if a.ContentType != "csv" {
			return a, fmt.Errorf("file artifact %q: row counts only apply to csv", s)
		}
		rows, err := parseRowSpec(parts[2])
		if err != nil {
			return a, fmt.Errorf("file artifact %q: %w", s, err)
		}
		a.Rows = rows
	}
	return a, nil
}

func parseRowSpec(spec string) (RowSpec, error) {
	spec = strings.TrimSpace(spec)
	mode := "exact"
	switch {
	case strings.HasSuffix(spec, "+"):
		mode = "min"
		spec = strings.TrimSuffix(spec, "+")
	case strings.HasSuffix(spec, "-"):
		mode = "max"
		spec = strings.TrimSuffix(spec, "-")
	}
	n, err := strconv.Atoi(spec)
	if err != nil || n < 0 {
		return RowSpec{}, fmt.Errorf("invalid row count %q", spec)
	}
	rs := RowSpec{Mode: mode}
	switch mode {
	case "min":
		rs.Min = n
	case "max":
		rs.Max = n
	default:
		rs.Exact = n
	}
	return rs, nil
}

func parseMetricArtifact(a Artifact, s string) (Artifact, error) {
	a.Kind = ArtifactMetric
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 4 {
		return a, fmt.Errorf("invalid metric artifact %q: expected metric:<file>:<field>:<op><value>", s)
	}
	a.Path = strings.TrimSpace(parts[1])
	a.Field = strings.TrimSpace(parts[2])
	if a.Path == "" || a.Field == "" {
		return a, fmt.Errorf("invalid metric artifact %q: file and field are required", s)
	}
	m := metricCheckPattern.FindStringSubmatch(strings.TrimSpace(parts[3]))
	if m == nil {
		return a, fmt.Errorf("invalid metric check %q: expected an operator (>=, <=, >, <, ==, !=) followed by a value", parts[3])
	}
	a.Operator = m[1]
	a.Value = ParseScalar(m[2])
	return a, nil
}

// ParseScalar converts a literal to bool, nil, float64 or string.
func ParseScalar(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
