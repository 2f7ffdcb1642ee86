package validation

import (
	"context"
	"os/exec"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, command string) (output string, err error)
}

// ShellCommandRunner executes commands via the system shell.
type ShellCommandRunner struct {
	WorkDir string // Working directory for commands (empty = current dir)
}

// NewShellCommandRunner creates a CommandRunner that executes real shell commands.
func NewShellCommandRunner(workDir string) *ShellCommandRunner {
	return &ShellCommandRunner{WorkDir: workDir}
}

// Run executes a command via sh -c and returns combined stdout/stderr.
func (r *ShellCommandRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}

	output, err := cmd.CombinedOutput()
	return string(output), err
}
