package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewTask(t *testing.T) {
	task := NewTask("train", "Train the model", "fetch", "clean")
	assert.Equal(t, "train", task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.True(t, task.CanParallel)
	assert.Equal(t, 0, task.MaxRetries)
	assert.Equal(t, []string{"fetch", "clean"}, task.DependsOn)
}

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		terminal bool
		valid    bool
	}{
		{StatusPending, false, true},
		{StatusBlocked, false, true},
		{StatusReady, false, true},
		{StatusInProgress, false, true},
		{StatusCompleted, true, true},
		{StatusFailed, true, true},
		{TaskStatus("skipped"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.valid, tt.status.Valid())
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]Priority{
		"":       PriorityMedium,
		"medium": PriorityMedium,
		"Normal": PriorityMedium,
		"low":    PriorityLow,
		" HIGH ": PriorityHigh,
		"7":      Priority(7),
		"-3":     Priority(-3),
	}
	for in, want := range tests {
		got, err := ParsePriority(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePriority("urgent")
	assert.ErrorContains(t, err, "invalid priority")
}

func TestPriority_UnmarshalYAML(t *testing.T) {
	var doc struct {
		A Priority `yaml:"a"`
		B Priority `yaml:"b"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: high\nb: 4\n"), &doc))
	assert.Equal(t, PriorityHigh, doc.A)
	assert.Equal(t, Priority(4), doc.B)

	err := yaml.Unmarshal([]byte("a: [1, 2]\n"), &doc)
	assert.ErrorContains(t, err, "priority must be a scalar")
}

func TestTask_Key(t *testing.T) {
	task := NewTask("fetch", "Fetch")
	assert.Equal(t, "fetch", task.Key())
	task.ResultKey = "dataset"
	assert.Equal(t, "dataset", task.Key())
}

func TestTask_CascadedFrom(t *testing.T) {
	task := NewTask("report", "Report")
	assert.Empty(t, task.CascadedFrom())

	task.Failure = &Failure{Kind: FailureValidation, Message: "no rows"}
	assert.Empty(t, task.CascadedFrom())

	task.Failure = &Failure{Kind: FailureCascade, Ancestor: "fetch"}
	assert.Equal(t, "fetch", task.CascadedFrom())
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr string
	}{
		{name: "valid", mutate: func(*Task) {}},
		{name: "missing id", mutate: func(t *Task) { t.ID = " " }, wantErr: "task id is required"},
		{name: "missing content", mutate: func(t *Task) { t.Content = "" }, wantErr: "task content is required"},
		{name: "unknown status", mutate: func(t *Task) { t.Status = "done" }, wantErr: `unknown status "done"`},
		{name: "negative retries", mutate: func(t *Task) { t.MaxRetries = -1 }, wantErr: "max_retries must be >= 0"},
		{name: "empty dependency", mutate: func(t *Task) { t.DependsOn = []string{""} }, wantErr: "empty id"},
		{name: "duplicate dependency", mutate: func(t *Task) { t.DependsOn = []string{"a", "a"} }, wantErr: "more than once"},
		{name: "bad artifact", mutate: func(t *Task) { t.Produces = "blob" }, wantErr: "produces: unsupported artifact"},
		{
			name:    "bad target",
			mutate:  func(t *Task) { t.Target = &Target{Metric: "acc", Operator: "~", Value: 1} },
			wantErr: "target: unsupported operator",
		},
		{
			name: "full declaration",
			mutate: func(t *Task) {
				t.DependsOn = []string{"fetch"}
				t.Produces = "file:data.csv:csv:10+"
				t.Target = &Target{Metric: "accuracy", Operator: ">=", Value: 0.9}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask("train", "Train")
			tt.mutate(&task)
			err := task.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestTask_Clone(t *testing.T) {
	orig := NewTask("train", "Train", "fetch")
	orig.Target = &Target{Metric: "accuracy", Operator: ">=", Value: 0.9}
	orig.Failure = &Failure{Kind: FailureTimeout, Message: "slow"}

	c := orig.Clone()
	c.DependsOn[0] = "other"
	c.Target.Metric = "loss"
	c.Failure.Message = "changed"

	assert.Equal(t, "fetch", orig.DependsOn[0])
	assert.Equal(t, "accuracy", orig.Target.Metric)
	assert.Equal(t, "slow", orig.Failure.Message)
}
