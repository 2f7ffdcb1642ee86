package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/taskgraph/internal/agent"
	"github.com/harrison/taskgraph/internal/config"
	"github.com/harrison/taskgraph/internal/display"
	"github.com/harrison/taskgraph/internal/executor"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow-file-or-directory>...",
		Short: "Validate one or more workflows",
		Long: `Parse and validate workflows, checking for:
  - Task fields (ids, content, produces, target, result_key)
  - Dependencies that point to undeclared tasks
  - Circular dependencies
  - Result keys claimed by more than one task
  - Task types that map to subagents which are not installed (warning only)

For each valid workflow the execution order is printed batch by batch.

Exit code: 0 if every workflow is valid, 1 otherwise`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return validateWorkflows(args, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().String("config", "", "Path to config file (default: .taskgraph/config.yaml)")
	return cmd
}

// validateWorkflows checks every path and returns an error naming how many failed.
func validateWorkflows(paths []string, cfg *config.Config, out, errOut io.Writer) error {
	registry := discoverAgents(cfg, errOut)
	agents := agentMap(cfg)

	failed := 0
	for _, path := range paths {
		if err := validateWorkflow(path, cfg, registry, agents, out, errOut); err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n\n", path, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("validation failed for %d of %d workflow(s)", failed, len(paths))
	}
	return nil
}

func validateWorkflow(path string, cfg *config.Config, registry *agent.Registry, agents map[string]string, out, errOut io.Writer) error {
	wf, err := loadWorkflow(out, path, parserOptions(cfg))
	if err != nil {
		return err
	}

	graph, err := executor.BuildDependencyGraph(wf.Tasks)
	if err != nil {
		return err
	}
	batches := graph.ExecutionOrder()

	for _, verr := range agent.ValidateTaskAgents(wf.Tasks, agents, registry) {
		display.WarnUnknownAgents(verr.AgentName, verr.TaskType, verr.TaskIDs, verr.Available).Display(errOut)
	}

	fmt.Fprintf(out, "✓ %s: %s is valid (%d tasks, %d batches)\n", path, wf.Name, graph.Len(), len(batches))
	printExecutionOrder(out, batches)
	fmt.Fprintln(out)
	return nil
}
