package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for taskgraph
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskgraph",
		Short: "Dependency-aware task orchestration engine",
		Long: `taskgraph runs workflows of interdependent tasks.

It parses workflow files (Markdown or YAML), orders tasks by their
dependencies, and orchestrates parallel execution through an external
executor command. Task results flow to dependents by name, declared
artifacts and targets are validated, failures are retried and cascade
to dependents, and progress is checkpointed so runs can be resumed.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
