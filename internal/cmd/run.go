package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harrison/taskgraph/internal/agent"
	"github.com/harrison/taskgraph/internal/checkpoint"
	"github.com/harrison/taskgraph/internal/config"
	"github.com/harrison/taskgraph/internal/display"
	"github.com/harrison/taskgraph/internal/executor"
	"github.com/harrison/taskgraph/internal/history"
	"github.com/harrison/taskgraph/internal/logger"
	"github.com/harrison/taskgraph/internal/models"
	"github.com/harrison/taskgraph/internal/validation"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-file-or-directory>",
		Short: "Execute a workflow",
		Long: `Execute a workflow by dispatching every task to the executor command.

The workflow is a Markdown or YAML file, or a directory of numbered files
(1-setup.md, 2-train.yaml, ...) merged in numeric order. Tasks run as soon
as their dependencies complete, up to --max-parallel at a time. Each result
is validated against the task's produces and target declarations; failures
are retried up to max_retries and then cascade to every dependent.

Configuration is loaded from .taskgraph/config.yaml if present, then
TASKGRAPH_* environment variables. CLI flags override both.

Examples:
  taskgraph run workflow.md
  taskgraph run flows/training/ --max-parallel 2
  taskgraph run --dry-run workflow.yaml         # Validate and print the execution order
  taskgraph run --resume workflow.yaml          # Continue from the last checkpoint
  taskgraph run --retry-failed workflow.yaml    # Resume and retry failed tasks
  taskgraph run --executor-command sh --executor-arg -c --executor-arg '{{prompt}}' workflow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .taskgraph/config.yaml)")
	cmd.Flags().Bool("dry-run", false, "Validate the workflow without executing tasks")
	cmd.Flags().Int("max-parallel", 0, "Maximum number of concurrent tasks (0 = unlimited)")
	cmd.Flags().Duration("timeout-per-task", 0, "Timeout for each task attempt (e.g. 90s, 10m; 0 = none)")
	cmd.Flags().Int("max-retries", 0, "Default attempt budget for tasks that do not set max_retries")
	cmd.Flags().Bool("resume", false, "Resume from the checkpoint of a previous run")
	cmd.Flags().Bool("retry-failed", false, "Resume and run failed tasks again (implies --resume)")
	cmd.Flags().String("checkpoint", "", "Checkpoint file (default: .taskgraph/checkpoint.json)")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().Bool("verbose", false, "Show debug output")
	cmd.Flags().Bool("no-history", false, "Do not record the run in the history database")
	cmd.Flags().String("history-db", "", "History database (default: .taskgraph/history.db)")
	cmd.Flags().String("executor-command", "", "Command run for each task attempt")
	cmd.Flags().StringArray("executor-arg", nil, "Executor argument, repeatable; {{prompt}} is replaced by the task prompt")

	return cmd
}

// runOverrides collects the flags the user actually set.
func runOverrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()

	if flags.Changed("max-parallel") {
		v, _ := flags.GetInt("max-parallel")
		o.MaxParallel = &v
	}
	if flags.Changed("timeout-per-task") {
		v, _ := flags.GetDuration("timeout-per-task")
		o.TimeoutPerTask = &v
	}
	if flags.Changed("max-retries") {
		v, _ := flags.GetInt("max-retries")
		o.MaxRetries = &v
	}
	if flags.Changed("checkpoint") {
		v, _ := flags.GetString("checkpoint")
		o.CheckpointPath = &v
	}
	if flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		o.LogDir = &v
	}
	if flags.Changed("no-history") {
		v, _ := flags.GetBool("no-history")
		o.NoHistory = &v
	}
	if flags.Changed("history-db") {
		v, _ := flags.GetString("history-db")
		o.HistoryDBPath = &v
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level := "debug"
		o.LogLevel = &level
	}
	if flags.Changed("executor-command") {
		v, _ := flags.GetString("executor-command")
		o.ExecutorCommand = &v
	}
	if flags.Changed("executor-arg") {
		v, _ := flags.GetStringArray("executor-arg")
		o.ExecutorArgs = v
	}
	return o
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.MergeWithFlags(runOverrides(cmd))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	retryFailed, _ := cmd.Flags().GetBool("retry-failed")
	resume, _ := cmd.Flags().GetBool("resume")
	resume = resume || retryFailed

	wf, err := loadWorkflow(out, args[0], parserOptions(cfg))
	if err != nil {
		return err
	}
	if len(wf.Tasks) == 0 {
		fmt.Fprintf(out, "Workflow is valid but contains no tasks.\n")
		return nil
	}

	fmt.Fprintf(out, "Validating dependencies...\n")
	graph, err := executor.BuildDependencyGraph(wf.Tasks)
	if err != nil {
		return fmt.Errorf("invalid workflow: %w", err)
	}
	batches := graph.ExecutionOrder()

	fmt.Fprintf(out, "\nWorkflow Summary:\n")
	fmt.Fprintf(out, "  Name: %s\n", wf.Name)
	fmt.Fprintf(out, "  Total tasks: %d\n", graph.Len())
	fmt.Fprintf(out, "  Batches: %d\n", len(batches))
	if cfg.MaxParallelTasks > 0 {
		fmt.Fprintf(out, "  Max parallel: %d\n", cfg.MaxParallelTasks)
	} else {
		fmt.Fprintf(out, "  Max parallel: unlimited\n")
	}
	if cfg.TimeoutPerTask > 0 {
		fmt.Fprintf(out, "  Timeout per task: %s\n", cfg.TimeoutPerTask)
	}
	if cfg.File != "" {
		fmt.Fprintf(out, "  Config: %s\n", cfg.File)
	}

	registry := discoverAgents(cfg, errOut)
	for _, verr := range agent.ValidateTaskAgents(wf.Tasks, agentMap(cfg), registry) {
		display.WarnUnknownAgents(verr.AgentName, verr.TaskType, verr.TaskIDs, verr.Available).Display(errOut)
	}

	if dryRun {
		fmt.Fprintf(out, "\nDry-run mode: workflow is valid and ready for execution.\n")
		fmt.Fprintf(out, "\nExecution order:\n")
		printExecutionOrder(out, batches)
		return nil
	}

	store := checkpoint.NewStore(cfg.CheckpointPath)
	release, err := store.Acquire()
	if err != nil {
		return fmt.Errorf("cannot start run: %w", err)
	}
	defer release()

	runID := uuid.NewString()
	if resume {
		snap, err := store.Load()
		switch {
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			fmt.Fprintf(errOut, "Warning: no checkpoint at %s, starting a new run\n", store.Path())
		case err != nil:
			return err
		default:
			if err := graph.ApplySnapshot(*snap, retryFailed); err != nil {
				return fmt.Errorf("failed to restore checkpoint: %w", err)
			}
			if snap.RunID != "" {
				runID = snap.RunID
			}
			counts := graph.Counts()
			fmt.Fprintf(out, "\nResuming run %s from %s (%d completed, %d failed)\n",
				runID, snap.SavedAt.Format(time.RFC3339), counts[models.StatusCompleted], counts[models.StatusFailed])
		}
	}

	consoleLog := logger.NewConsoleLogger(out, cfg.LogLevel)
	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()
	eventLog := logger.NewMulti(consoleLog, fileLog)

	var recorder executor.Recorder
	if cfg.History.Enabled {
		hist, err := history.NewStore(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer hist.Close()
		recorder = hist
	}

	workDir := cfg.Executor.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	orch := executor.NewOrchestrator(graph, buildExecutor(cfg, registry), executor.Options{
		MaxParallel:   cfg.MaxParallelTasks,
		TaskTimeout:   cfg.TimeoutPerTask,
		RunID:         runID,
		Workflow:      wf.Name,
		Validator:     validation.New(workDir),
		Logger:        eventLog,
		Recorder:      recorder,
		Checkpointer:  store,
		HandleSignals: true,
	})

	fmt.Fprintf(out, "\nStarting run %s...\n\n", runID)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := orch.ExecuteAll(ctx)
	if err != nil {
		if result != nil && result.Cancelled {
			fmt.Fprintf(out, "\nRun interrupted. Continue with: taskgraph run --resume %s\n", args[0])
		}
		return fmt.Errorf("execution failed: %w", err)
	}

	fmt.Fprintf(out, "Logs written to: %s\n", fileLog.RunFile())
	if !result.Success {
		fmt.Fprintf(out, "\nExecution completed with %d failed and %d cascaded task(s).\n", result.Failed, result.Cascaded)
		return fmt.Errorf("%d task(s) failed", result.Failed+result.Cascaded)
	}

	fmt.Fprintf(out, "\nExecution completed successfully!\n")
	return nil
}
