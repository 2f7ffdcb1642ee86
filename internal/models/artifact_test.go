package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArtifact(t *testing.T) {
	tests := []struct {
		in   string
		want Artifact
	}{
		{"data", Artifact{Kind: ArtifactData}},
		{" metrics ", Artifact{Kind: ArtifactMetrics}},
		{"file:out/report.md", Artifact{Kind: ArtifactFile, Path: "out/report.md"}},
		{"file:data.json:JSON", Artifact{Kind: ArtifactFile, Path: "data.json", ContentType: "json"}},
		{"file:data.csv:csv:100", Artifact{Kind: ArtifactFile, Path: "data.csv", ContentType: "csv", Rows: RowSpec{Exact: 100, Mode: "exact"}}},
		{"file:data.csv:csv:100+", Artifact{Kind: ArtifactFile, Path: "data.csv", ContentType: "csv", Rows: RowSpec{Min: 100, Mode: "min"}}},
		{"file:data.csv:csv:5-", Artifact{Kind: ArtifactFile, Path: "data.csv", ContentType: "csv", Rows: RowSpec{Max: 5, Mode: "max"}}},
		{"exec:go test ./...", Artifact{Kind: ArtifactExec, Command: "go test ./..."}},
		{"metric:eval.json:accuracy:>=0.9", Artifact{Kind: ArtifactMetric, Path: "eval.json", Field: "accuracy", Operator: ">=", Value: 0.9}},
		{"metric:eval.json:status:==ok", Artifact{Kind: ArtifactMetric, Path: "eval.json", Field: "status", Operator: "==", Value: "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseArtifact(tt.in)
			require.NoError(t, err)
			tt.want.Raw = tt.in
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArtifact_Errors(t *testing.T) {
	tests := map[string]string{
		"blob":                     "unsupported artifact",
		"exec:  ":                  "has no command",
		"file:":                    "has no path",
		"file:a.bin:binary":        "unknown content type",
		"file:a.json:json:5":       "row counts only apply to csv",
		"file:a.csv:csv:many":      "invalid row count",
		"metric:eval.json":         "expected metric:<file>:<field>:<op><value>",
		"metric::acc:>=1":          "file and field are required",
		"metric:eval.json:acc:0.9": "invalid metric check",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseArtifact(in)
			assert.ErrorContains(t, err, want)
		})
	}
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, true, ParseScalar("True"))
	assert.Equal(t, false, ParseScalar("false"))
	assert.Nil(t, ParseScalar("null"))
	assert.Nil(t, ParseScalar("None"))
	assert.Equal(t, 42.0, ParseScalar(" 42 "))
	assert.Equal(t, -0.5, ParseScalar("-0.5"))
	assert.Equal(t, "ready", ParseScalar("ready"))
}

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{name: "numeric", target: Target{Metric: "accuracy", Operator: ">=", Value: 0.9}},
		{name: "string equality", target: Target{Metric: "status", Operator: "==", Value: "ok"}},
		{name: "bool equality", target: Target{Metric: "passed", Operator: "!=", Value: false}},
		{name: "missing metric", target: Target{Operator: ">", Value: 1}, wantErr: "metric is required"},
		{name: "bad operator", target: Target{Metric: "a", Operator: "=>", Value: 1}, wantErr: "unsupported operator"},
		{name: "missing value", target: Target{Metric: "a", Operator: ">"}, wantErr: "value is required"},
		{name: "ordered bool", target: Target{Metric: "a", Operator: ">", Value: true}, wantErr: "cannot compare booleans"},
		{name: "list value", target: Target{Metric: "a", Operator: "==", Value: []any{1}}, wantErr: "must be a scalar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "accuracy >= 0.9", Target{Metric: "accuracy", Operator: ">=", Value: 0.9}.String())
}

func TestValidOperator(t *testing.T) {
	for _, op := range []string{">=", "<=", ">", "<", "==", "!="} {
		assert.True(t, ValidOperator(op), op)
	}
	for _, op := range []string{"=", "=>", "<>", ""} {
		assert.False(t, ValidOperator(op), op)
	}
}
