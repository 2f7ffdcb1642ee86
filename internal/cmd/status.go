package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/taskgraph/internal/checkpoint"
	"github.com/harrison/taskgraph/internal/display"
	"github.com/harrison/taskgraph/internal/executor"
)

// NewStatusCommand creates the status subcommand
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <workflow-file-or-directory>",
		Short: "Show the state of a workflow run",
		Long: `Show the state of a workflow as recorded in its checkpoint: counts per
status, tasks ready to run, blocked tasks split into waiting and skipped,
the result store, and the task graph with one status icon per task.

Without a checkpoint the initial state of the workflow is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: statusCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .taskgraph/config.yaml)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file (default: .taskgraph/checkpoint.json)")
	return cmd
}

func statusCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	checkpointPath := cfg.CheckpointPath
	if cmd.Flags().Changed("checkpoint") {
		checkpointPath, _ = cmd.Flags().GetString("checkpoint")
	}

	wf, err := loadWorkflow(out, args[0], parserOptions(cfg))
	if err != nil {
		return err
	}
	graph, err := executor.BuildDependencyGraph(wf.Tasks)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}

	fmt.Fprintln(out)
	snap, err := checkpoint.NewStore(checkpointPath).Load()
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		fmt.Fprintf(out, "No checkpoint at %s; showing the initial state.\n", checkpointPath)
	case err != nil:
		return err
	default:
		if snap.Workflow != "" && snap.Workflow != wf.Name {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: checkpoint belongs to workflow %q, not %q\n", snap.Workflow, wf.Name)
		}
		if err := graph.ApplySnapshot(*snap, false); err != nil {
			return fmt.Errorf("failed to restore checkpoint: %w", err)
		}
		fmt.Fprintf(out, "Run %s, checkpoint saved %s\n", snap.RunID, snap.SavedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(out, "Workflow: %s\n", wf.Name)
	display.RenderCounts(out, graph.Counts(), graph.Len())

	var ready []string
	for _, task := range graph.ReadyTasks() {
		ready = append(ready, task.ID)
	}
	if len(ready) > 0 {
		fmt.Fprintf(out, "Ready: %s\n", strings.Join(ready, ", "))
	}
	display.RenderBlocked(out, graph.BlockedTasks())

	fmt.Fprintln(out)
	display.RenderGraph(out, graph.ExecutionOrder(), graph.Tasks())
	fmt.Fprintln(out)
	display.RenderResults(out, graph.Results())
	return nil
}
