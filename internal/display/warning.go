package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Warning represents a user-facing warning message
type Warning struct {
	Title      string   // Main warning title
	Message    string   // Detailed explanation (optional)
	Items      []string // Affected tasks or files (optional)
	Suggestion string   // Action to take (optional)
}

// Display shows a formatted warning, in yellow on a terminal
func (w Warning) Display(out io.Writer) {
	var b strings.Builder

	b.WriteString("⚠️  Warning: ")
	b.WriteString(w.Title)
	b.WriteString("\n")

	if w.Message != "" {
		b.WriteString("    ")
		b.WriteString(w.Message)
		b.WriteString("\n")
	}

	if len(w.Items) > 0 {
		if len(w.Items) == 1 {
			b.WriteString("    Affected:\n")
		} else {
			b.WriteString(fmt.Sprintf("    Affected (%d):\n", len(w.Items)))
		}
		for i, item := range w.Items {
			b.WriteString(fmt.Sprintf("      %d. %s\n", i+1, item))
		}
	}

	if w.Suggestion != "" {
		b.WriteString("    Suggestion:\n")
		b.WriteString("    ")
		b.WriteString(w.Suggestion)
		b.WriteString("\n")
	}

	fmt.Fprint(out, paint(ColorEnabled(out), color.FgYellow, b.String()))
}

// WarnUnknownAgents builds a warning listing tasks whose agent is missing.
func WarnUnknownAgents(agent, taskType string, taskIDs []string, available []string) Warning {
	w := Warning{
		Title:   fmt.Sprintf("Agent %q for task_type %q is not installed", agent, taskType),
		Message: "These tasks will run without a subagent prefix.",
		Items:   taskIDs,
	}
	if len(available) > 0 {
		w.Suggestion = "Available agents: " + strings.Join(available, ", ")
	} else {
		w.Suggestion = "Set executor.agents_dir or executor.agents in .taskgraph/config.yaml"
	}
	return w
}
