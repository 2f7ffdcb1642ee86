package executor

import "github.com/harrison/taskgraph/internal/models"

// WorkflowBuilder assembles task declarations programmatically.
//
//	b := NewWorkflowBuilder()
//	b.Add(models.NewTask("research_api", "Research REST API patterns"))
//	b.Add(models.NewTask("design", "Design the API", "research_api"))
//	graph, err := b.Build()
type WorkflowBuilder struct {
	tasks []models.Task
}

// NewWorkflowBuilder returns an empty builder.
func NewWorkflowBuilder() *WorkflowBuilder {
	return &WorkflowBuilder{}
}

// Add appends one task as given.
func (b *WorkflowBuilder) Add(task models.Task) *WorkflowBuilder {
	b.tasks = append(b.tasks, task.Clone())
	return b
}

// AddParallel appends tasks that may share a batch.
func (b *WorkflowBuilder) AddParallel(tasks ...models.Task) *WorkflowBuilder {
	for _, task := range tasks {
		task = task.Clone()
		task.CanParallel = true
		b.tasks = append(b.tasks, task)
	}
	return b
}

// AddSequence appends tasks that run one after another: each depends on the
// previous one and is never batched with other tasks.
func (b *WorkflowBuilder) AddSequence(tasks ...models.Task) *WorkflowBuilder {
	prev := ""
	for _, task := range tasks {
		task = task.Clone()
		if prev != "" && !contains(task.DependsOn, prev) {
			task.DependsOn = append(task.DependsOn, prev)
		}
		task.CanParallel = false
		b.tasks = append(b.tasks, task)
		prev = task.ID
	}
	return b
}

// Tasks returns a copy of the declarations collected so far.
func (b *WorkflowBuilder) Tasks() []models.Task {
	out := make([]models.Task, len(b.tasks))
	for i, t := range b.tasks {
		out[i] = t.Clone()
	}
	return out
}

// Build validates the declarations and returns the dependency graph.
func (b *WorkflowBuilder) Build() (*DependencyGraph, error) {
	return BuildDependencyGraph(b.tasks)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
