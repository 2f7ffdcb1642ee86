package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/taskgraph/internal/models"
)

// statusOrder is the order statuses are listed in tallies.
var statusOrder = []models.TaskStatus{
	models.StatusCompleted,
	models.StatusFailed,
	models.StatusInProgress,
	models.StatusReady,
	models.StatusBlocked,
	models.StatusPending,
}

// ColorEnabled reports whether w is a terminal that accepts colors.
func ColorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func paint(enabled bool, attr color.Attribute, s string) string {
	if !enabled {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

// StatusIcon returns the glyph shown next to a task in the graph view.
func StatusIcon(status models.TaskStatus) string {
	switch status {
	case models.StatusCompleted:
		return "✓"
	case models.StatusFailed:
		return "✗"
	case models.StatusInProgress:
		return "◐"
	case models.StatusReady:
		return "▶"
	case models.StatusBlocked:
		return "⏸"
	default:
		return "○"
	}
}

func statusColor(status models.TaskStatus) color.Attribute {
	switch status {
	case models.StatusCompleted:
		return color.FgGreen
	case models.StatusFailed:
		return color.FgRed
	case models.StatusInProgress:
		return color.FgCyan
	case models.StatusReady:
		return color.FgBlue
	default:
		return color.FgHiBlack
	}
}

// RenderGraph prints every batch and its tasks:
//
//	Batch 2:
//	  ✗ train [code] (failed) <- fetch
//	      validation error: target not met
func RenderGraph(w io.Writer, batches []models.Batch, tasks []models.Task) {
	enabled := ColorEnabled(w)

	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	for _, batch := range batches {
		fmt.Fprintf(w, "%s:\n", paint(enabled, color.Bold, batch.Name))
		for _, id := range batch.TaskIDs {
			task, ok := byID[id]
			if !ok {
				continue
			}

			line := fmt.Sprintf("  %s %s", StatusIcon(task.Status), task.ID)
			if task.TaskType != "" {
				line += fmt.Sprintf(" [%s]", task.TaskType)
			}
			line += fmt.Sprintf(" (%s)", task.Status)
			if task.RetriesUsed > 0 {
				line += fmt.Sprintf(" retries used %d", task.RetriesUsed)
			}
			if len(task.DependsOn) > 0 {
				line += " <- " + strings.Join(task.DependsOn, ", ")
			}
			fmt.Fprintln(w, paint(enabled, statusColor(task.Status), line))

			if f := task.Failure; f != nil {
				if f.Kind == models.FailureCascade {
					fmt.Fprintf(w, "      cascaded from %s\n", f.Ancestor)
				} else {
					fmt.Fprintf(w, "      %s error: %s\n", f.Kind, f.Message)
				}
			}
		}
	}
}

// RenderCounts prints the per-status tally, skipping empty statuses.
func RenderCounts(w io.Writer, counts models.StatusCounts, total int) {
	var parts []string
	for _, status := range statusOrder {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no tasks")
	}
	fmt.Fprintf(w, "Status: %s (%d total)\n", strings.Join(parts, ", "), total)
}

// RenderBlocked prints blocked tasks split into waiting and skipped.
func RenderBlocked(w io.Writer, report models.BlockedReport) {
	if len(report.Pending) > 0 {
		fmt.Fprintf(w, "Waiting on dependencies: %s\n", strings.Join(report.Pending, ", "))
	}
	if len(report.Failed) > 0 {
		fmt.Fprintf(w, "Skipped (dependency failed): %s\n", strings.Join(report.Failed, ", "))
	}
}

const maxResultWidth = 80

// RenderResults prints the result store in key order, one compact JSON
// value per line.
func RenderResults(w io.Writer, results map[string]any) {
	if len(results) == 0 {
		fmt.Fprintln(w, "Results: none")
		return
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "Results:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", k, formatValue(results[k]))
	}
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	s := string(data)
	if err != nil {
		s = fmt.Sprintf("%v", v)
	}
	if len(s) > maxResultWidth {
		s = s[:maxResultWidth-3] + "..."
	}
	return s
}
