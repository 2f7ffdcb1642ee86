package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// PromptPlaceholder is replaced by the composed prompt in command arguments.
const PromptPlaceholder = "{{prompt}}"

// waitDelay bounds how long output pipes are drained after the command is killed.
const waitDelay = 2 * time.Second

// maxErrorOutput limits how much raw output is copied into an outcome error.
const maxErrorOutput = 500

// DefaultAgents maps task types to the subagent that handles them.
var DefaultAgents = map[string]string{
	"research": "researcher",
	"code":     "general",
	"validate": "general",
	"review":   "reviewer",
	"general":  "general",
}

// Invoker runs one external command per task attempt. The prompt is passed
// in place of {{prompt}} in Args, or on stdin when no argument carries the
// placeholder. With StdinJSON the full request is written to stdin as JSON.
type Invoker struct {
	Command   string
	Args      []string
	WorkDir   string
	Env       []string          // Extra KEY=VALUE pairs
	StdinJSON bool              // Send the ExecutionRequest as JSON on stdin
	Agents    map[string]string // task_type -> subagent name
	Registry  *Registry         // Known subagents; nil disables agent prefixes
}

// InvocationResult captures the raw result of running the command
type InvocationResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Error    error // Set when the command could not be started or was killed
}

// agentOutput is the JSON document a command may print on stdout.
type agentOutput struct {
	Success   *bool            `json:"success"`
	Result    any              `json:"result"`
	Content   string           `json:"content"`
	Error     string           `json:"error"`
	IsError   bool             `json:"is_error"`
	Artifacts map[string]int64 `json:"artifacts"`
}

// NewInvoker creates an Invoker for command with the given argument template
func NewInvoker(command string, args ...string) *Invoker {
	return &Invoker{
		Command: command,
		Args:    args,
		Agents:  DefaultAgents,
	}
}

// BuildPrompt composes the task content with the inputs of its dependencies.
func BuildPrompt(req models.ExecutionRequest) string {
	if len(req.Inputs) == 0 {
		return req.Content
	}

	keys := make([]string, 0, len(req.Inputs))
	for k := range req.Inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(req.Content)
	sb.WriteString("\n\n**Available inputs from previous tasks:**\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, formatInput(req.Inputs[k]))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatInput(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// agentFor returns the subagent for a task type when it is registered.
func (inv *Invoker) agentFor(taskType string) string {
	if inv.Registry == nil || taskType == "" {
		return ""
	}
	name := inv.Agents[taskType]
	if name == "" || name == "general" || !inv.Registry.Exists(name) {
		return ""
	}
	return name
}

// Prompt returns the full prompt sent for req, including the subagent prefix.
func (inv *Invoker) Prompt(req models.ExecutionRequest) string {
	prompt := BuildPrompt(req)
	if agent := inv.agentFor(req.TaskType); agent != "" {
		prompt = fmt.Sprintf("use the %s subagent to: %s", agent, prompt)
	}
	return prompt
}

// BuildCommandArgs substitutes the prompt into the argument template.
// The second return value reports whether the placeholder was used.
func (inv *Invoker) BuildCommandArgs(req models.ExecutionRequest) ([]string, bool) {
	prompt := inv.Prompt(req)
	args := make([]string, len(inv.Args))
	substituted := false
	for i, arg := range inv.Args {
		if strings.Contains(arg, PromptPlaceholder) {
			arg = strings.ReplaceAll(arg, PromptPlaceholder, prompt)
			substituted = true
		}
		args[i] = arg
	}
	return args, substituted
}

func (inv *Invoker) environment(req models.ExecutionRequest) []string {
	env := append(os.Environ(), inv.Env...)
	env = append(env,
		"TASKGRAPH_TASK_ID="+req.TaskID,
		"TASKGRAPH_TASK_TYPE="+req.TaskType,
		"TASKGRAPH_ATTEMPT="+strconv.Itoa(req.Attempt),
	)
	if inputs, err := json.Marshal(req.Inputs); err == nil {
		env = append(env, "TASKGRAPH_INPUTS="+string(inputs))
	}
	return env
}

// Invoke runs the command for one attempt. The command is killed when ctx ends.
func (inv *Invoker) Invoke(ctx context.Context, req models.ExecutionRequest) (*InvocationResult, error) {
	if inv.Command == "" {
		return nil, errors.New("no executor command configured")
	}
	startTime := time.Now()

	args, substituted := inv.BuildCommandArgs(req)
	cmd := exec.CommandContext(ctx, inv.Command, args...)
	cmd.Dir = inv.WorkDir
	cmd.WaitDelay = waitDelay
	cmd.Env = inv.environment(req)

	switch {
	case inv.StdinJSON:
		payload, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		cmd.Stdin = bytes.NewReader(payload)
	case !substituted:
		cmd.Stdin = strings.NewReader(inv.Prompt(req))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &InvocationResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.Error = err
		}
	}

	return result, nil
}

// Execute implements executor.TaskExecutor.
func (inv *Invoker) Execute(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
	res, err := inv.Invoke(ctx, req)
	if err != nil {
		return models.Outcome{}, err
	}
	if res.Error != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Outcome{}, ctxErr
		}
		return models.Outcome{}, fmt.Errorf("run %s: %w", inv.Command, res.Error)
	}
	return ParseOutput(res.Stdout, res.Stderr, res.ExitCode), nil
}

// ParseOutput interprets command output. A JSON object on stdout (the whole
// output or its last line) is decoded as an outcome; anything else is taken
// as a plain result and success follows the exit code.
func ParseOutput(stdout, stderr string, exitCode int) models.Outcome {
	if out, ok := decodeOutput(stdout); ok {
		outcome := models.Outcome{
			Result:    out.Result,
			Error:     out.Error,
			Artifacts: out.Artifacts,
		}
		if outcome.Result == nil && out.Content != "" {
			outcome.Result = out.Content
		}
		if out.Success != nil {
			outcome.Success = *out.Success
		} else {
			outcome.Success = exitCode == 0 && !out.IsError && out.Error == ""
		}
		if !outcome.Success && outcome.Error == "" {
			outcome.Error = exitMessage(exitCode, stderr)
		}
		return outcome
	}

	trimmed := strings.TrimSpace(stdout)
	if exitCode != 0 {
		return models.Outcome{Success: false, Result: trimmed, Error: exitMessage(exitCode, stderr)}
	}
	var result any
	if trimmed != "" {
		result = trimmed
	}
	return models.Outcome{Success: true, Result: result}
}

func decodeOutput(stdout string) (agentOutput, bool) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return agentOutput{}, false
	}
	candidates := []string{trimmed}
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		candidates = append(candidates, strings.TrimSpace(trimmed[i+1:]))
	}
	for _, c := range candidates {
		if !strings.HasPrefix(c, "{") {
			continue
		}
		var out agentOutput
		if err := json.Unmarshal([]byte(c), &out); err == nil {
			return out, true
		}
	}
	return agentOutput{}, false
}

func exitMessage(exitCode int, stderr string) string {
	msg := fmt.Sprintf("exit status %d", exitCode)
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return msg
	}
	if len(stderr) > maxErrorOutput {
		stderr = stderr[len(stderr)-maxErrorOutput:]
	}
	return msg + ": " + stderr
}
