package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskgraph/internal/models"
)

func request(content string, inputs map[string]any) models.ExecutionRequest {
	return models.ExecutionRequest{TaskID: "t1", TaskType: "code", Content: content, Inputs: inputs, Attempt: 1}
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "do it", BuildPrompt(request("do it", nil)))

	prompt := BuildPrompt(request("Train", map[string]any{
		"dataset": "data.csv",
		"clean":   map[string]any{"rows": 10},
		"empty":   nil,
	}))
	want := "Train\n\n**Available inputs from previous tasks:**\n" +
		"- clean: {\"rows\":10}\n" +
		"- dataset: data.csv\n" +
		"- empty: null"
	assert.Equal(t, want, prompt)
}

func TestInvoker_Prompt_AgentPrefix(t *testing.T) {
	inv := NewInvoker("claude", "-p", PromptPlaceholder)
	req := models.ExecutionRequest{TaskType: "research", Content: "find papers"}

	assert.Equal(t, "find papers", inv.Prompt(req), "no registry, no prefix")

	inv.Registry = NewRegistry(t.TempDir())
	assert.Equal(t, "find papers", inv.Prompt(req), "unregistered agent")

	inv.Registry.Register(&Agent{Name: "researcher"})
	assert.Equal(t, "use the researcher subagent to: find papers", inv.Prompt(req))

	req.TaskType = "code"
	inv.Registry.Register(&Agent{Name: "general"})
	assert.Equal(t, "find papers", inv.Prompt(req), "general agent is never named")
}

func TestInvoker_BuildCommandArgs(t *testing.T) {
	inv := NewInvoker("claude", "-p", PromptPlaceholder, "--output-format", "json")
	args, substituted := inv.BuildCommandArgs(request("hello", nil))
	assert.True(t, substituted)
	assert.Equal(t, []string{"-p", "hello", "--output-format", "json"}, args)

	inv.Args = []string{"--prompt=" + PromptPlaceholder}
	args, _ = inv.BuildCommandArgs(request("x", nil))
	assert.Equal(t, []string{"--prompt=x"}, args)

	inv.Args = []string{"run"}
	_, substituted = inv.BuildCommandArgs(request("x", nil))
	assert.False(t, substituted)
}

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name     string
		stdout   string
		stderr   string
		exitCode int
		want     models.Outcome
	}{
		{
			name:   "json success",
			stdout: `{"success": true, "result": {"accuracy": 0.97}, "artifacts": {"model.bin": 42}}`,
			want: models.Outcome{
				Success:   true,
				Result:    map[string]any{"accuracy": 0.97},
				Artifacts: map[string]int64{"model.bin": 42},
			},
		},
		{
			name:   "json explicit failure",
			stdout: `{"success": false, "error": "disk full"}`,
			want:   models.Outcome{Success: false, Error: "disk full"},
		},
		{
			name:   "json on last line",
			stdout: "progress 1/2\nprogress 2/2\n{\"success\": true, \"result\": 3}\n",
			want:   models.Outcome{Success: true, Result: float64(3)},
		},
		{
			name:   "claude style content",
			stdout: `{"content": "done", "is_error": false}`,
			want:   models.Outcome{Success: true, Result: "done"},
		},
		{
			name:     "json without success flag follows exit code",
			stdout:   `{"result": "partial"}`,
			stderr:   "boom",
			exitCode: 2,
			want:     models.Outcome{Success: false, Result: "partial", Error: "exit status 2: boom"},
		},
		{
			name:   "plain text",
			stdout: "  all good\n",
			want:   models.Outcome{Success: true, Result: "all good"},
		},
		{
			name: "empty output",
			want: models.Outcome{Success: true},
		},
		{
			name:     "plain text failure",
			stdout:   "half",
			exitCode: 1,
			want:     models.Outcome{Success: false, Result: "half", Error: "exit status 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOutput(tt.stdout, tt.stderr, tt.exitCode))
		})
	}
}

func TestExitMessage_TruncatesStderr(t *testing.T) {
	msg := exitMessage(1, strings.Repeat("a", 2*maxErrorOutput)+"tail")
	assert.True(t, strings.HasSuffix(msg, "tail"))
	assert.LessOrEqual(t, len(msg), maxErrorOutput+len("exit status 1: "))
}

func TestInvoker_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("prompt as argument", func(t *testing.T) {
		inv := NewInvoker("sh", "-c", `printf '{"success": true, "result": "%s"}' "$1"`, "sh", PromptPlaceholder)
		outcome, err := inv.Execute(ctx, request("hello", nil))
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, "hello", outcome.Result)
	})

	t.Run("prompt on stdin", func(t *testing.T) {
		inv := NewInvoker("sh", "-c", "cat")
		outcome, err := inv.Execute(ctx, request("from stdin", nil))
		require.NoError(t, err)
		assert.Equal(t, "from stdin", outcome.Result)
	})

	t.Run("request as json on stdin", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "request.json")
		inv := NewInvoker("sh", "-c", `cat > "$0"`, path)
		inv.StdinJSON = true
		outcome, err := inv.Execute(ctx, request("payload", map[string]any{"a": 1}))
		require.NoError(t, err)
		assert.True(t, outcome.Success)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var got models.ExecutionRequest
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "payload", got.Content)
		assert.Equal(t, "t1", got.TaskID)
	})

	t.Run("environment", func(t *testing.T) {
		inv := NewInvoker("sh", "-c", `echo "$TASKGRAPH_TASK_ID:$TASKGRAPH_ATTEMPT:$TASKGRAPH_INPUTS:$EXTRA"`, "sh", PromptPlaceholder)
		inv.Env = []string{"EXTRA=x"}
		outcome, err := inv.Execute(ctx, request("env", map[string]any{"k": "v"}))
		require.NoError(t, err)
		assert.Equal(t, `t1:1:{"k":"v"}:x`, outcome.Result)
	})

	t.Run("work dir", func(t *testing.T) {
		dir := t.TempDir()
		inv := NewInvoker("sh", "-c", "pwd", "sh", PromptPlaceholder)
		inv.WorkDir = dir
		outcome, err := inv.Execute(ctx, request("pwd", nil))
		require.NoError(t, err)
		assert.Contains(t, outcome.Result, dir[strings.LastIndex(dir, "/")+1:])
	})

	t.Run("non-zero exit", func(t *testing.T) {
		inv := NewInvoker("sh", "-c", "echo oops >&2; exit 3", "sh", PromptPlaceholder)
		outcome, err := inv.Execute(ctx, request("fail", nil))
		require.NoError(t, err)
		assert.False(t, outcome.Success)
		assert.Equal(t, "exit status 3: oops", outcome.Error)
	})

	t.Run("missing binary", func(t *testing.T) {
		inv := NewInvoker("/definitely/not/a/binary")
		_, err := inv.Execute(ctx, request("x", nil))
		assert.Error(t, err)
	})

	t.Run("no command", func(t *testing.T) {
		_, err := (&Invoker{}).Execute(ctx, request("x", nil))
		assert.Error(t, err)
	})

	t.Run("context deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		inv := NewInvoker("sh", "-c", "exec sleep 5", "sh", PromptPlaceholder)
		_, err := inv.Execute(ctx, request("slow", nil))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
