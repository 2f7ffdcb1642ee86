package executor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// DependencyGraph owns every task record of one run. All status transitions
// and result store writes go through its methods and are serialized by a
// single mutex, so a Ready task can be claimed by exactly one worker.
type DependencyGraph struct {
	mu      sync.Mutex
	order   []string                // task ids in declaration order
	index   map[string]int          // task id -> declaration index
	tasks   map[string]*models.Task // task id -> record
	edges   map[string][]string     // prerequisite -> dependents
	results *ResultStore
}

// BuildDependencyGraph validates the declarations and constructs the graph.
// It fails before anything can be scheduled on malformed input: duplicate
// ids, unknown dependencies, ambiguous result keys or a cycle.
func BuildDependencyGraph(tasks []models.Task) (*DependencyGraph, error) {
	g := &DependencyGraph{
		order:   make([]string, 0, len(tasks)),
		index:   make(map[string]int, len(tasks)),
		tasks:   make(map[string]*models.Task, len(tasks)),
		edges:   make(map[string][]string, len(tasks)),
		results: NewResultStore(),
	}

	for i := range tasks {
		task := tasks[i].Clone()
		if err := task.Validate(); err != nil {
			return nil, &InvalidTaskError{TaskID: task.ID, Err: err}
		}
		if _, exists := g.tasks[task.ID]; exists {
			return nil, &DuplicateTaskError{TaskID: task.ID}
		}
		if task.Status == "" || task.Status == models.StatusInProgress {
			task.Status = models.StatusPending
		}
		g.index[task.ID] = len(g.order)
		g.order = append(g.order, task.ID)
		g.tasks[task.ID] = &task
	}

	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn {
			if _, exists := g.tasks[dep]; !exists {
				return nil, &UnknownDependencyError{TaskID: id, Dependency: dep}
			}
			g.edges[dep] = append(g.edges[dep], id)
		}
	}

	if err := g.checkResultKeys(); err != nil {
		return nil, err
	}
	if path := g.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}
	if err := g.checkDeclaredStatus(); err != nil {
		return nil, err
	}

	// Tasks declared as already completed seed the result store.
	for _, id := range g.order {
		task := g.tasks[id]
		if task.Status == models.StatusCompleted {
			if err := g.results.Put(task.ID, task.Key(), task.Result); err != nil {
				return nil, &InvalidTaskError{TaskID: id, Err: err}
			}
		}
	}

	g.reclassify()
	return g, nil
}

// checkDeclaredStatus rejects terminal statuses the graph could not have
// reached: a completed task with an unfinished prerequisite, or a failed task
// without a failure reason.
func (g *DependencyGraph) checkDeclaredStatus() error {
	for _, id := range g.order {
		task := g.tasks[id]
		switch task.Status {
		case models.StatusCompleted:
			for _, dep := range task.DependsOn {
				if status := g.tasks[dep].Status; status != models.StatusCompleted {
					return &InvalidTaskError{
						TaskID: id,
						Err:    fmt.Errorf("declared completed but dependency %s is %s", dep, status),
					}
				}
			}
		case models.StatusFailed:
			if task.Failure == nil || task.Failure.Message == "" {
				return &InvalidTaskError{TaskID: id, Err: fmt.Errorf("declared failed without a failure reason")}
			}
		}
	}
	return nil
}

// checkResultKeys rejects result keys shared by two tasks or equal to
// another task's id, since either would make the result store ambiguous.
func (g *DependencyGraph) checkResultKeys() error {
	owners := make(map[string][]string)
	for _, id := range g.order {
		owners[id] = append(owners[id], id)
	}
	for _, id := range g.order {
		key := g.tasks[id].ResultKey
		if key == "" || key == id {
			continue
		}
		owners[key] = append(owners[key], id)
	}
	for _, id := range g.order {
		for _, name := range []string{id, g.tasks[id].ResultKey} {
			if name == "" {
				continue
			}
			if claimants := owners[name]; len(claimants) > 1 {
				return &DuplicateResultKeyError{Key: name, Tasks: claimants}
			}
		}
	}
	return nil
}

// findCycle runs a DFS with white/gray/black marking over depends_on edges
// and returns the offending path when a node on the current path is revisited.
func (g *DependencyGraph) findCycle() []string {
	const (
		white = 0 // not visited
		gray  = 1 // on current path
		black = 2 // finished
	)

	colors := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		colors[node] = gray
		stack = append(stack, node)

		for _, dep := range g.tasks[node].DependsOn {
			switch colors[dep] {
			case gray:
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		colors[node] = black
		return false
	}

	for _, id := range g.order {
		if colors[id] == white && dfs(id) {
			return cycle
		}
	}
	return nil
}

// less orders tasks by priority descending, then declaration order.
func (g *DependencyGraph) less(a, b string) bool {
	pa, pb := g.tasks[a].Priority, g.tasks[b].Priority
	if pa != pb {
		return pa > pb
	}
	return g.index[a] < g.index[b]
}

// ExecutionOrder computes topological batches with Kahn's algorithm.
// Batch 0 holds every task without dependencies; batch k holds the tasks whose
// dependencies all sit in earlier batches. Within a batch, tasks are sorted by
// priority descending, then declaration order.
func (g *DependencyGraph) ExecutionOrder() []models.Batch {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.tasks[id].DependsOn)
	}

	var batches []models.Batch
	for len(inDegree) > 0 {
		var current []string
		for _, id := range g.order {
			if degree, remaining := inDegree[id]; remaining && degree == 0 {
				current = append(current, id)
			}
		}
		if len(current) == 0 {
			// Unreachable on a graph that passed BuildDependencyGraph.
			break
		}
		sort.SliceStable(current, func(i, j int) bool { return g.less(current[i], current[j]) })

		batches = append(batches, models.Batch{
			Index:   len(batches),
			Name:    fmt.Sprintf("Batch %d", len(batches)+1),
			TaskIDs: current,
		})

		for _, id := range current {
			delete(inDegree, id)
			for _, dependent := range g.edges[id] {
				if _, exists := inDegree[dependent]; exists {
					inDegree[dependent]--
				}
			}
		}
	}
	return batches
}

// reclassify moves every non-terminal, unclaimed task to Ready or Blocked
// based on its dependencies. A task whose dependency failed permanently is
// failed by cascade. Callers must hold g.mu.
func (g *DependencyGraph) reclassify() {
	for _, id := range g.order {
		task := g.tasks[id]
		switch task.Status {
		case models.StatusPending, models.StatusBlocked, models.StatusReady:
		default:
			continue
		}

		allDone := true
		failedDep := ""
		for _, dep := range task.DependsOn {
			switch g.tasks[dep].Status {
			case models.StatusCompleted:
			case models.StatusFailed:
				if failedDep == "" {
					failedDep = dep
				}
				allDone = false
			default:
				allDone = false
			}
		}

		switch {
		case failedDep != "":
			ancestor := g.tasks[failedDep].CascadedFrom()
			if ancestor == "" {
				ancestor = failedDep
			}
			g.markCascaded(task, ancestor)
		case allDone:
			task.Status = models.StatusReady
		default:
			task.Status = models.StatusBlocked
		}
	}
}

func (g *DependencyGraph) markCascaded(task *models.Task, ancestor string) {
	now := time.Now()
	err := &CascadeBlockedError{TaskID: task.ID, Ancestor: ancestor}
	task.Status = models.StatusFailed
	task.Failure = &models.Failure{Kind: models.FailureCascade, Message: err.Error(), Ancestor: ancestor}
	task.CompletedAt = &now
}

// cascade fails every transitive dependent of root that has not finished.
// Dependents are visited in declaration order. Callers must hold g.mu.
func (g *DependencyGraph) cascade(root string) []string {
	var skipped []string
	visited := map[string]bool{root: true}
	queue := append([]string(nil), g.edges[root]...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		task := g.tasks[id]
		if !task.Status.IsTerminal() && task.Status != models.StatusInProgress {
			g.markCascaded(task, root)
			skipped = append(skipped, id)
		}
		queue = append(queue, g.edges[id]...)
	}

	sort.SliceStable(skipped, func(i, j int) bool { return g.index[skipped[i]] < g.index[skipped[j]] })
	return skipped
}

// ReadyTasks returns copies of every task whose dependencies have all
// completed and which is not yet claimed, highest priority first.
func (g *DependencyGraph) ReadyTasks() []models.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()

	ids := g.readyIDs()
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

func (g *DependencyGraph) readyIDs() []string {
	var ids []string
	for _, id := range g.order {
		if g.tasks[id].Status == models.StatusReady {
			ids = append(ids, id)
		}
	}
	sort.SliceStable(ids, func(i, j int) bool { return g.less(ids[i], ids[j]) })
	return ids
}

// BlockedTasks reports tasks that cannot run right now: those still waiting
// on an unfinished dependency and those skipped because a dependency failed.
func (g *DependencyGraph) BlockedTasks() models.BlockedReport {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()

	var report models.BlockedReport
	for _, id := range g.order {
		task := g.tasks[id]
		switch {
		case task.Status == models.StatusBlocked:
			report.Pending = append(report.Pending, id)
		case task.CascadedFrom() != "":
			report.Failed = append(report.Failed, id)
		}
	}
	return report
}

// Claim moves a Ready task to InProgress and returns a copy of it.
func (g *DependencyGraph) Claim(id string) (models.Task, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()

	task, ok := g.tasks[id]
	if !ok {
		return models.Task{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.Status != models.StatusReady {
		return models.Task{}, fmt.Errorf("%w: %s is %s", ErrNotClaimable, id, task.Status)
	}
	return g.claimLocked(task), nil
}

func (g *DependencyGraph) claimLocked(task *models.Task) models.Task {
	now := time.Now()
	task.Status = models.StatusInProgress
	task.StartedAt = &now
	return task.Clone()
}

// ClaimNext claims the single highest-priority Ready task.
func (g *DependencyGraph) ClaimNext() (models.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()

	ids := g.readyIDs()
	if len(ids) == 0 {
		return models.Task{}, false
	}
	return g.claimLocked(g.tasks[ids[0]]), true
}

// ClaimBatch claims the next set of tasks that may run together. When the
// highest-priority Ready task has can_parallel=false it is claimed alone;
// otherwise up to maxParallel parallel-safe tasks are claimed (0 = no limit).
func (g *DependencyGraph) ClaimBatch(maxParallel int) []models.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()

	ids := g.readyIDs()
	if len(ids) == 0 {
		return nil
	}
	if first := g.tasks[ids[0]]; !first.CanParallel {
		return []models.Task{g.claimLocked(first)}
	}

	var claimed []models.Task
	for _, id := range ids {
		if maxParallel > 0 && len(claimed) >= maxParallel {
			break
		}
		task := g.tasks[id]
		if !task.CanParallel {
			continue
		}
		claimed = append(claimed, g.claimLocked(task))
	}
	return claimed
}

// Inputs resolves the dependency results of a task keyed by each
// dependency's result key.
func (g *DependencyGraph) Inputs(id string) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, ok := g.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	inputs := make(map[string]any, len(task.DependsOn))
	for _, depID := range task.DependsOn {
		dep := g.tasks[depID]
		value, ok := g.results.Get(dep.ID)
		if !ok {
			return nil, fmt.Errorf("task %s: no result for dependency %s", id, depID)
		}
		inputs[dep.Key()] = value
	}
	return inputs, nil
}

// Complete commits a successful attempt: the result is written to the store
// and the task becomes Completed.
func (g *DependencyGraph) Complete(id string, result any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, err := g.inProgressLocked(id)
	if err != nil {
		return err
	}
	if err := g.results.Put(task.ID, task.Key(), result); err != nil {
		return err
	}
	now := time.Now()
	task.Status = models.StatusCompleted
	task.Result = result
	task.Failure = nil
	task.CompletedAt = &now
	g.reclassify()
	return nil
}

// Fail commits a failed attempt. The retry counter is incremented; while it
// stays below max_retries the task goes back to Ready. Otherwise, or when the
// cause is an abandoned executor call that may still be running, the task is
// Failed and every transitive dependent is failed by cascade.
func (g *DependencyGraph) Fail(id string, cause error) (requeued bool, cascaded []string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	task, err := g.inProgressLocked(id)
	if err != nil {
		return false, nil, err
	}

	task.RetriesUsed++
	if task.RetriesUsed < task.MaxRetries && !isAbandoned(cause) {
		task.Status = models.StatusReady
		task.StartedAt = nil
		return true, nil, nil
	}

	now := time.Now()
	task.Status = models.StatusFailed
	task.Failure = failureFor(cause)
	task.CompletedAt = &now
	cascaded = g.cascade(id)
	g.reclassify()
	return false, cascaded, nil
}

func (g *DependencyGraph) inProgressLocked(id string) (*models.Task, error) {
	task, ok := g.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if task.Status != models.StatusInProgress {
		return nil, fmt.Errorf("task %s: cannot commit from status %s", id, task.Status)
	}
	return task, nil
}

// Task returns a copy of one task record.
func (g *DependencyGraph) Task(id string) (models.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return task.Clone(), true
}

// Tasks returns copies of every task in declaration order.
func (g *DependencyGraph) Tasks() []models.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].Clone())
	}
	return out
}

// Dependents returns the direct dependents of id in declaration order.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.edges[id]...)
}

// Len returns the number of tasks.
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// Counts tallies tasks per status.
func (g *DependencyGraph) Counts() models.StatusCounts {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reclassify()
	counts := make(models.StatusCounts)
	for _, id := range g.order {
		counts[g.tasks[id].Status]++
	}
	return counts
}

// Quiescent reports whether nothing is Ready and nothing is InProgress.
func (g *DependencyGraph) Quiescent() bool {
	counts := g.Counts()
	return counts[models.StatusReady] == 0 && counts[models.StatusInProgress] == 0
}

// Results returns a read-only copy of the result store.
func (g *DependencyGraph) Results() map[string]any {
	return g.results.Snapshot()
}

// Snapshot captures every task record and the result store.
func (g *DependencyGraph) Snapshot(runID, workflow string) models.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	tasks := make([]models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.tasks[id].Clone())
	}
	return models.Snapshot{
		Version:  models.SnapshotVersion,
		RunID:    runID,
		Workflow: workflow,
		SavedAt:  time.Now(),
		Tasks:    tasks,
		Results:  g.results.Snapshot(),
	}
}

// ApplySnapshot restores per-task state from a checkpoint so completed work
// is not repeated. Tasks caught InProgress go back to Pending. With
// retryFailed, failed tasks (own and cascaded) are reset as well. Snapshot
// entries for unknown ids are ignored.
func (g *DependencyGraph) ApplySnapshot(snap models.Snapshot, retryFailed bool) error {
	if snap.Version != 0 && snap.Version != models.SnapshotVersion {
		return fmt.Errorf("unsupported checkpoint version %d", snap.Version)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, saved := range snap.Tasks {
		task, ok := g.tasks[saved.ID]
		if !ok {
			continue
		}
		task.Status = saved.Status
		task.RetriesUsed = saved.RetriesUsed
		task.Result = saved.Result
		task.Failure = saved.Failure
		task.StartedAt = saved.StartedAt
		task.CompletedAt = saved.CompletedAt

		switch {
		case task.Status == models.StatusInProgress:
			task.Status = models.StatusPending
			task.StartedAt = nil
		case task.Status == models.StatusFailed && retryFailed:
			task.Status = models.StatusPending
			task.RetriesUsed = 0
			task.Failure = nil
			task.StartedAt = nil
			task.CompletedAt = nil
		}
	}

	results := NewResultStore()
	for _, id := range g.order {
		task := g.tasks[id]
		if task.Status != models.StatusCompleted {
			continue
		}
		if err := results.Put(task.ID, task.Key(), task.Result); err != nil {
			return fmt.Errorf("restore results: %w", err)
		}
	}
	g.results = results
	g.reclassify()
	return nil
}
