package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/taskgraph/internal/models"
)

// ValidationError reports a task type that routes to an unknown subagent.
type ValidationError struct {
	AgentName string   // Name of the missing agent
	TaskType  string   // Task type that maps to it
	TaskIDs   []string // Tasks declared with that type
	Available []string // Available agent names
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "agent '%s' for task_type %q not found in registry", e.AgentName, e.TaskType)
	if len(e.TaskIDs) > 0 {
		fmt.Fprintf(&msg, " (used by %s)", strings.Join(e.TaskIDs, ", "))
	}
	if len(e.Available) > 0 {
		fmt.Fprintf(&msg, "; available agents: %s", strings.Join(e.Available, ", "))
	} else {
		msg.WriteString("; no agents found in registry")
	}
	return msg.String()
}

// ValidateTaskAgents checks that every task type used by tasks maps to a
// registered subagent. Types without a mapping and the "general" agent run
// without a prefix and are not reported.
func ValidateTaskAgents(tasks []models.Task, agents map[string]string, registry *Registry) []ValidationError {
	if registry == nil {
		return nil
	}

	byType := make(map[string][]string)
	for _, task := range tasks {
		if task.TaskType == "" {
			continue
		}
		byType[task.TaskType] = append(byType[task.TaskType], task.ID)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	var errs []ValidationError
	available := registry.Names()
	for _, taskType := range types {
		name := agents[taskType]
		if name == "" || name == "general" || registry.Exists(name) {
			continue
		}
		errs = append(errs, ValidationError{
			AgentName: name,
			TaskType:  taskType,
			TaskIDs:   byType[taskType],
			Available: available,
		})
	}
	return errs
}
