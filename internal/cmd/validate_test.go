package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskgraph/internal/config"
)

func TestNewValidateCommand(t *testing.T) {
	cmd := NewValidateCommand()
	assert.Equal(t, "validate <workflow-file-or-directory>...", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("config"))
}

func TestValidateCommand_NoArgs(t *testing.T) {
	_, err := execute(t, "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestValidateCommand_ValidWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "pipeline.yaml", pipelineWorkflow)

	output, err := execute(t, "validate", "--config", env.config, wf)
	require.NoError(t, err)

	assert.Contains(t, output, "pipeline is valid (3 tasks, 3 batches)")
	assert.Contains(t, output, "Batch 1: fetch")
	assert.Contains(t, output, "Batch 2: clean")
	assert.Contains(t, output, "Batch 3: report")
}

func TestValidateCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{name: "cycle", content: cyclicWorkflow, contains: "dependency cycle"},
		{
			name:     "unknown dependency",
			content:  "tasks:\n  - id: a\n    content: A\n    depends_on: [ghost]\n",
			contains: "ghost",
		},
		{
			name: "duplicate result key",
			content: "tasks:\n  - id: a\n    content: A\n    result_key: out\n" +
				"  - id: b\n    content: B\n    result_key: out\n",
			contains: "out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			wf := env.writeWorkflow(t, "bad.yaml", tt.content)

			output, err := execute(t, "validate", "--config", env.config, wf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed for 1 of 1 workflow(s)")
			assert.Contains(t, output, "✗ "+wf)
			assert.Contains(t, output, tt.contains)
		})
	}
}

func TestValidateCommand_MultipleWorkflows(t *testing.T) {
	env := newTestEnv(t)
	good := env.writeWorkflow(t, "good.yaml", pipelineWorkflow)
	bad := env.writeWorkflow(t, "bad.yaml", cyclicWorkflow)
	missing := filepath.Join(env.dir, "missing.yaml")

	output, err := execute(t, "validate", "--config", env.config, good, bad, missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed for 2 of 3 workflow(s)")
	assert.Contains(t, output, "✓ "+good)
	assert.Contains(t, output, "✗ "+bad)
	assert.Contains(t, output, "✗ "+missing)
}

func TestValidateWorkflows_UnknownAgentWarning(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "research.yaml", "tasks:\n  - id: survey\n    content: Survey\n    task_type: research\n")

	cfg, err := config.LoadConfig(env.config)
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	require.NoError(t, validateWorkflows([]string{wf}, cfg, &out, &errOut), "agent warnings do not fail validation")
	assert.Contains(t, errOut.String(), "Warning:")
	assert.Contains(t, errOut.String(), "survey")
}

func TestValidateWorkflows_InstalledAgent(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "research.yaml", "tasks:\n  - id: survey\n    content: Survey\n    task_type: research\n")

	cfg, err := config.LoadConfig(env.config)
	require.NoError(t, err)
	agentFile := "---\nname: researcher\ndescription: Finds sources\n---\nYou research.\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Executor.AgentsDir, "researcher.md"), []byte(agentFile), 0644))

	var out, errOut bytes.Buffer
	require.NoError(t, validateWorkflows([]string{wf}, cfg, &out, &errOut))
	assert.NotContains(t, errOut.String(), "Warning:")
}
