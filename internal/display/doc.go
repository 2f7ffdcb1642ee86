// Package display provides terminal output for the taskgraph CLI: workflow
// loading progress, warnings, and the status view of a task graph.
//
// # Progress Indicators
//
// Use ProgressIndicator when a workflow directory holds several files:
//
//	progress := display.NewProgressIndicator(os.Stdout, len(files))
//	progress.Start()
//	for _, file := range files {
//	    progress.Step(file)
//	}
//	progress.Complete()
//
// For single file workflows:
//
//	display.DisplaySingleFile(os.Stdout, filename)
//
// # Warning Messages
//
//	warning := display.Warning{
//	    Title:      "Unknown agent",
//	    Message:    "task_type research maps to researcher, which is not installed",
//	    Items:      []string{"fetch", "survey"},
//	    Suggestion: "Install the agent or set executor.agents in .taskgraph/config.yaml",
//	}
//	warning.Display(os.Stderr)
//
// # Graph View
//
// RenderGraph prints the execution batches with one status icon per task,
// RenderCounts prints the per-status tally and RenderResults the result
// store contents.
//
// Colors come from fatih/color and are only emitted when the writer is a
// terminal; every function takes an io.Writer so output can be captured in
// tests.
package display
