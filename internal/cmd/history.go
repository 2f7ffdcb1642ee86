package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/taskgraph/internal/history"
	"github.com/harrison/taskgraph/internal/models"
)

// NewHistoryCommand creates the history subcommand
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List workflow runs recorded in the history database, most recent first.

With --run, show one run in detail: its final per-task outcomes and every
attempt that was dispatched.

Examples:
  taskgraph history
  taskgraph history --limit 5
  taskgraph history --run 3f2c9a4e-...`,
		Args: cobra.NoArgs,
		RunE: historyCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .taskgraph/config.yaml)")
	cmd.Flags().String("db", "", "History database (default: .taskgraph/history.db)")
	cmd.Flags().String("run", "", "Show the details of one run")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	return cmd
}

func historyCommand(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dbPath := cfg.History.DBPath
	if cmd.Flags().Changed("db") {
		dbPath, _ = cmd.Flags().GetString("db")
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintf(out, "No history recorded (database not found: %s)\n", dbPath)
		return nil
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if runID, _ := cmd.Flags().GetString("run"); runID != "" {
		return showRun(ctx, out, store, runID)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintf(out, "No history recorded\n")
		return nil
	}
	printRuns(out, runs)
	return nil
}

func printRuns(w io.Writer, runs []*history.Run) {
	header := color.New(color.FgCyan, color.Bold)
	header.Fprintf(w, "%-36s  %-20s  %-10s  %-9s  %-19s  %s\n", "RUN", "WORKFLOW", "STATUS", "TASKS", "STARTED", "DURATION")
	for _, run := range runs {
		fmt.Fprintf(w, "%-36s  %-20s  ", run.ID, truncate(run.Workflow, 20))
		runStatusColor(run.Status).Fprintf(w, "%-10s", run.Status)
		fmt.Fprintf(w, "  %-9s  %-19s  %s\n",
			fmt.Sprintf("%d/%d", run.Completed, run.TotalTasks),
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			runDuration(run))
	}
}

func showRun(ctx context.Context, w io.Writer, store *history.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	reports, err := store.RunTasks(ctx, runID)
	if err != nil {
		return err
	}
	attempts, err := store.RunAttempts(ctx, runID)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "=== Run %s ===\n", run.ID)
	fmt.Fprintf(w, "  Workflow: %s\n", run.Workflow)
	fmt.Fprintf(w, "  Status: ")
	runStatusColor(run.Status).Fprintf(w, "%s\n", run.Status)
	fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", runDuration(run))
	fmt.Fprintf(w, "  Tasks: %d total, %d completed, %d failed, %d cascaded",
		run.TotalTasks, run.Completed, run.Failed, run.Cascaded)
	if run.NotRun > 0 {
		fmt.Fprintf(w, ", %d not run", run.NotRun)
	}
	fmt.Fprintln(w)

	if len(reports) > 0 {
		fmt.Fprintln(w)
		cyan.Fprintf(w, "Task outcomes:\n")
		for _, r := range reports {
			line := fmt.Sprintf("  %-24s %s", r.ID, r.String())
			if r.RetriesUsed > 0 {
				line += fmt.Sprintf(" after %d retries", r.RetriesUsed)
			}
			if r.Error != "" && r.Outcome == models.OutcomeFailed {
				line += " - " + r.Error
			}
			outcomeColor(r.Outcome).Fprintln(w, line)
		}
	}

	if len(attempts) > 0 {
		fmt.Fprintln(w)
		cyan.Fprintf(w, "Attempts:\n")
		for _, a := range attempts {
			label := strings.ToUpper(string(a.Status))
			if a.Requeued {
				label = "RETRY"
			}
			fmt.Fprintf(w, "  %-24s #%-2d %-9s %8s", a.TaskID, a.Attempt, label, a.Duration.Round(time.Millisecond))
			if a.Error != "" {
				fmt.Fprintf(w, "  %s", a.Error)
			}
			fmt.Fprintln(w)
			if len(a.Cascaded) > 0 {
				fmt.Fprintf(w, "      cascaded to: %s\n", strings.Join(a.Cascaded, ", "))
			}
		}
	}
	return nil
}

func runDuration(run *history.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.Duration.Round(time.Millisecond).String()
}

func runStatusColor(status string) *color.Color {
	switch status {
	case history.RunSucceeded:
		return color.New(color.FgGreen)
	case history.RunFailed:
		return color.New(color.FgRed)
	case history.RunCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func outcomeColor(outcome models.ReportOutcome) *color.Color {
	switch outcome {
	case models.OutcomeCompleted:
		return color.New(color.FgGreen)
	case models.OutcomeFailed:
		return color.New(color.FgRed)
	case models.OutcomeCascaded:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
