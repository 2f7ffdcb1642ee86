package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/taskgraph/internal/models"
)

// Logger receives orchestration events. Implementations live in the logger package.
type Logger interface {
	LogBatchStart(batch models.Batch)
	LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult)
	LogTaskResult(result models.TaskResult) error
	LogCascade(root string, skipped []string)
	LogProgress(counts models.StatusCounts, total int)
	LogWarn(message string)
	LogSummary(result models.ExecutionResult)
}

// Recorder persists run history. It is optional.
type Recorder interface {
	StartRun(ctx context.Context, runID, workflow string, totalTasks int) error
	RecordAttempt(ctx context.Context, runID string, result models.TaskResult) error
	FinishRun(ctx context.Context, runID string, result models.ExecutionResult) error
}

// Checkpointer persists graph snapshots so a run can be resumed. It is optional.
type Checkpointer interface {
	Save(snapshot models.Snapshot) error
}

// DefaultTimeoutGrace is how long a timed-out executor call may take to
// return before the task is failed without retry.
const DefaultTimeoutGrace = 5 * time.Second

// Options configures an Orchestrator. Zero values disable the feature.
type Options struct {
	MaxParallel  int           // Concurrency bound used by ExecuteAll (0 = unlimited)
	TaskTimeout  time.Duration // Per-attempt executor timeout (0 = none)
	// TimeoutGrace bounds how long a timed-out executor call is awaited before
	// it is abandoned. Defaults to DefaultTimeoutGrace.
	TimeoutGrace time.Duration
	RunID        string        // Generated when empty
	Workflow     string        // Workflow name for snapshots and history
	Validator    Validator
	Logger       Logger
	Recorder     Recorder
	Checkpointer Checkpointer
	// HandleSignals cancels the run on SIGINT/SIGTERM during ExecuteAll.
	HandleSignals bool
}

// Orchestrator drives a DependencyGraph to quiescence by dispatching ready
// tasks to a TaskExecutor and committing validated outcomes.
type Orchestrator struct {
	graph        *DependencyGraph
	executor     TaskExecutor
	validator    Validator
	logger       Logger
	recorder     Recorder
	checkpointer Checkpointer

	maxParallel   int
	taskTimeout   time.Duration
	timeoutGrace  time.Duration
	runID         string
	workflow      string
	handleSignals bool

	mu       sync.Mutex
	attempts []models.TaskResult
	batches  int
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(graph *DependencyGraph, taskExecutor TaskExecutor, opts Options) *Orchestrator {
	if graph == nil {
		panic("dependency graph cannot be nil")
	}
	if taskExecutor == nil {
		panic("task executor cannot be nil")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	timeoutGrace := opts.TimeoutGrace
	if timeoutGrace <= 0 {
		timeoutGrace = DefaultTimeoutGrace
	}
	return &Orchestrator{
		graph:         graph,
		executor:      taskExecutor,
		validator:     opts.Validator,
		logger:        opts.Logger,
		recorder:      opts.Recorder,
		checkpointer:  opts.Checkpointer,
		maxParallel:   opts.MaxParallel,
		taskTimeout:   opts.TaskTimeout,
		timeoutGrace:  timeoutGrace,
		runID:         runID,
		workflow:      opts.Workflow,
		handleSignals: opts.HandleSignals,
	}
}

// RunID returns the identifier of this run.
func (o *Orchestrator) RunID() string { return o.runID }

// Graph returns the graph being driven.
func (o *Orchestrator) Graph() *DependencyGraph { return o.graph }

// ExecuteNext claims the single highest-priority ready task, runs it
// synchronously and commits the outcome. ok is false when nothing is ready.
func (o *Orchestrator) ExecuteNext(ctx context.Context) (result models.TaskResult, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return models.TaskResult{}, false, err
	}
	task, ok := o.graph.ClaimNext()
	if !ok {
		return models.TaskResult{}, false, nil
	}
	batch := o.nextBatch([]models.Task{task})
	results := o.runBatch(ctx, 1, batch, []models.Task{task})
	o.checkpoint()
	return results[0], true, nil
}

// RunBatch claims the current ready set, bounded by maxParallel (0 =
// unlimited) and can_parallel, runs it concurrently and waits for every
// attempt to settle. It returns nil when nothing is ready.
func (o *Orchestrator) RunBatch(ctx context.Context, maxParallel int) ([]models.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tasks := o.graph.ClaimBatch(maxParallel)
	if len(tasks) == 0 {
		return nil, nil
	}
	results := o.runBatch(ctx, maxParallel, o.nextBatch(tasks), tasks)
	o.checkpoint()
	return results, nil
}

// ExecuteReadyParallel repeats RunBatch until no task is Ready and none is
// InProgress. Cancelling ctx stops new dispatch; attempts already running
// finish or time out first.
func (o *Orchestrator) ExecuteReadyParallel(ctx context.Context, maxParallel int) error {
	for {
		results, err := o.RunBatch(ctx, maxParallel)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
	}
}

// ExecuteAll drives the graph to completion and returns a summary that
// lists every declared task exactly once. A cancelled run returns the
// partial summary together with the context error.
func (o *Orchestrator) ExecuteAll(ctx context.Context) (*models.ExecutionResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if o.handleSignals {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case <-sigChan:
				if o.logger != nil {
					o.logger.LogWarn("received interrupt signal, waiting for running tasks to finish")
				}
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	if o.recorder != nil {
		if err := o.recorder.StartRun(ctx, o.runID, o.workflow, o.graph.Len()); err != nil && o.logger != nil {
			o.logger.LogWarn(fmt.Sprintf("record run start: %v", err))
		}
	}

	startTime := time.Now()
	runErr := o.ExecuteReadyParallel(ctx, o.maxParallel)
	summary := o.Summary(time.Since(startTime))

	if o.recorder != nil {
		// The run context may already be cancelled; history is still written.
		if err := o.recorder.FinishRun(context.WithoutCancel(ctx), o.runID, *summary); err != nil && o.logger != nil {
			o.logger.LogWarn(fmt.Sprintf("record run finish: %v", err))
		}
	}
	if o.logger != nil {
		o.logger.LogSummary(*summary)
	}
	return summary, runErr
}

// Summary builds the per-task report from the current graph state.
func (o *Orchestrator) Summary(duration time.Duration) *models.ExecutionResult {
	tasks := o.graph.Tasks()

	o.mu.Lock()
	attempts := append([]models.TaskResult(nil), o.attempts...)
	o.mu.Unlock()

	summary := &models.ExecutionResult{
		RunID:      o.runID,
		TotalTasks: len(tasks),
		Duration:   duration,
		Tasks:      make([]models.TaskReport, 0, len(tasks)),
		Attempts:   attempts,
		Results:    o.graph.Results(),
	}

	for _, task := range tasks {
		report := models.TaskReport{
			ID:          task.ID,
			TaskType:    task.TaskType,
			Status:      task.Status,
			RetriesUsed: task.RetriesUsed,
		}
		switch {
		case task.Status == models.StatusCompleted:
			report.Outcome = models.OutcomeCompleted
			summary.Completed++
		case task.CascadedFrom() != "":
			report.Outcome = models.OutcomeCascaded
			report.CascadedFrom = task.CascadedFrom()
			report.Error = task.Failure.Message
			summary.Cascaded++
		case task.Status == models.StatusFailed:
			report.Outcome = models.OutcomeFailed
			if task.Failure != nil {
				report.Error = task.Failure.Message
			}
			summary.Failed++
		default:
			report.Outcome = models.OutcomeNotRun
			summary.NotRun++
		}
		summary.Tasks = append(summary.Tasks, report)
	}

	summary.Success = summary.Completed == summary.TotalTasks
	summary.Cancelled = summary.NotRun > 0
	return summary
}

func (o *Orchestrator) nextBatch(tasks []models.Task) models.Batch {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	batch := models.Batch{Index: o.batches, Name: fmt.Sprintf("Batch %d", o.batches+1), TaskIDs: ids}
	o.batches++
	return batch
}

func (o *Orchestrator) checkpoint() {
	if o.checkpointer == nil {
		return
	}
	if err := o.checkpointer.Save(o.graph.Snapshot(o.runID, o.workflow)); err != nil && o.logger != nil {
		o.logger.LogWarn(fmt.Sprintf("save checkpoint: %v", err))
	}
}
