package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/taskgraph/internal/agent"
	"github.com/harrison/taskgraph/internal/config"
	"github.com/harrison/taskgraph/internal/display"
	"github.com/harrison/taskgraph/internal/executor"
	"github.com/harrison/taskgraph/internal/models"
	"github.com/harrison/taskgraph/internal/parser"
)

// loadConfig reads --config when given, otherwise .taskgraph/config.yaml
// in the working directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfigFromDir(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func parserOptions(cfg *config.Config) parser.Options {
	return parser.Options{DefaultMaxRetries: cfg.MaxRetries}
}

// loadWorkflow parses a workflow file or a directory of numbered files,
// reporting progress on out.
func loadWorkflow(out io.Writer, path string, opts parser.Options) (*models.Workflow, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	if !info.IsDir() {
		display.DisplaySingleFile(out, path)
		wf, err := parser.ParseFile(path, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow: %w", err)
		}
		return wf, nil
	}

	files, err := parser.WorkflowFiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	progress := display.NewProgressIndicator(out, len(files))
	progress.Start()
	for _, f := range files {
		progress.Step(f)
	}

	wf, err := parser.ParseDirectory(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	progress.Complete()
	return wf, nil
}

// agentMap layers configured task_type mappings over the defaults.
func agentMap(cfg *config.Config) map[string]string {
	agents := make(map[string]string, len(agent.DefaultAgents)+len(cfg.Executor.Agents))
	for k, v := range agent.DefaultAgents {
		agents[k] = v
	}
	for k, v := range cfg.Executor.Agents {
		agents[k] = v
	}
	return agents
}

// discoverAgents loads subagent definitions and reports parse problems on errOut.
func discoverAgents(cfg *config.Config, errOut io.Writer) *agent.Registry {
	registry := agent.NewRegistry(cfg.Executor.AgentsDir)
	if _, err := registry.Discover(); err != nil {
		fmt.Fprintf(errOut, "Warning: agent discovery failed: %v\n", err)
	}
	for _, w := range registry.Warnings() {
		fmt.Fprintf(errOut, "Warning: %s\n", w)
	}
	return registry
}

func newInvoker(cfg *config.Config, command string, args []string, registry *agent.Registry) *agent.Invoker {
	inv := agent.NewInvoker(command, args...)
	inv.WorkDir = cfg.Executor.WorkDir
	inv.StdinJSON = cfg.Executor.StdinJSON
	inv.Agents = agentMap(cfg)
	inv.Registry = registry
	return inv
}

// buildExecutor wires the default executor command and any per-task_type
// routes into one TaskExecutor.
func buildExecutor(cfg *config.Config, registry *agent.Registry) executor.TaskExecutor {
	fallback := newInvoker(cfg, cfg.Executor.Command, cfg.Executor.Args, registry)
	if len(cfg.Executor.Routes) == 0 {
		return fallback
	}

	router := agent.NewRouter(fallback)
	taskTypes := make([]string, 0, len(cfg.Executor.Routes))
	for t := range cfg.Executor.Routes {
		taskTypes = append(taskTypes, t)
	}
	sort.Strings(taskTypes)
	for _, t := range taskTypes {
		route := cfg.Executor.Routes[t]
		router.Route(t, newInvoker(cfg, route.Command, route.Args, registry))
	}
	return router
}

// printExecutionOrder lists the batches of a graph, one line per batch.
func printExecutionOrder(out io.Writer, batches []models.Batch) {
	for _, batch := range batches {
		fmt.Fprintf(out, "  %s: %s\n", batch.Name, strings.Join(batch.TaskIDs, ", "))
	}
}
