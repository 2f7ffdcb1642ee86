package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCommand_NoCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "pipeline.yaml", pipelineWorkflow)

	output, err := execute(t, "status", "--config", env.config, wf)
	require.NoError(t, err)

	assert.Contains(t, output, "No checkpoint at "+env.checkpoint)
	assert.Contains(t, output, "Workflow: pipeline")
	assert.Contains(t, output, "Status: 1 ready, 2 blocked (3 total)")
	assert.Contains(t, output, "Ready: fetch")
	assert.Contains(t, output, "Waiting on dependencies: clean, report")
	assert.Contains(t, output, "▶ fetch (ready)")
	assert.Contains(t, output, "Results: none")
}

func TestStatusCommand_AfterFailedRun(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "pipeline.yaml", pipelineWorkflow)

	failClean := `if [ "$TASKGRAPH_TASK_ID" = clean ]; then exit 1; fi; ` + echoScript
	_, err := execute(t, "run", "--config", env.config, "--no-history",
		"--executor-command", "sh", "--executor-arg", "-c", "--executor-arg", failClean, wf)
	require.Error(t, err)

	output, err := execute(t, "status", "--config", env.config, wf)
	require.NoError(t, err)

	assert.Contains(t, output, "Run ")
	assert.Contains(t, output, "Status: 1 completed, 2 failed (3 total)")
	assert.Contains(t, output, "✓ fetch (completed)")
	assert.Contains(t, output, "✗ clean (failed)")
	assert.Contains(t, output, "cascaded from clean")
	assert.Contains(t, output, `dataset = "fetch-done"`)
	assert.NotContains(t, output, "Ready:")
}

func TestStatusCommand_CheckpointFlag(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "pipeline.yaml", pipelineWorkflow)

	_, err := execute(t, "run", "--config", env.config, "--no-history",
		"--executor-command", "sh", "--executor-arg", "-c", "--executor-arg", echoScript, wf)
	require.NoError(t, err)

	output, err := execute(t, "status", "--config", env.config, "--checkpoint", env.dir+"/other.json", wf)
	require.NoError(t, err)
	assert.Contains(t, output, "No checkpoint at")

	output, err = execute(t, "status", "--config", env.config, "--checkpoint", env.checkpoint, wf)
	require.NoError(t, err)
	assert.Contains(t, output, "Status: 3 completed (3 total)")
}

func TestStatusCommand_InvalidWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.writeWorkflow(t, "cycle.yaml", cyclicWorkflow)

	_, err := execute(t, "status", "--config", env.config, wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid workflow")
}
