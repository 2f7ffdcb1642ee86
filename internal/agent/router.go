package agent

import (
	"context"
	"sort"

	"github.com/harrison/taskgraph/internal/executor"
	"github.com/harrison/taskgraph/internal/models"
)

// Router dispatches each request to the executor registered for its
// task_type, or to the fallback.
type Router struct {
	routes   map[string]executor.TaskExecutor
	fallback executor.TaskExecutor
}

// NewRouter returns a router that sends unrouted task types to fallback.
func NewRouter(fallback executor.TaskExecutor) *Router {
	return &Router{routes: make(map[string]executor.TaskExecutor), fallback: fallback}
}

// Route registers exec for taskType.
func (r *Router) Route(taskType string, exec executor.TaskExecutor) {
	r.routes[taskType] = exec
}

// Routes returns the task types with a dedicated executor.
func (r *Router) Routes() []string {
	types := make([]string, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute implements executor.TaskExecutor.
func (r *Router) Execute(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
	if exec, ok := r.routes[req.TaskType]; ok {
		return exec.Execute(ctx, req)
	}
	if r.fallback == nil {
		return models.Outcome{Success: false, Error: "no executor for task_type " + req.TaskType}, nil
	}
	return r.fallback.Execute(ctx, req)
}
