package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// TaskExecutor runs the opaque content of one task attempt.
// Implementations report domain failure through Outcome.Success and reserve
// the error return for transport problems (process failed to start, I/O).
type TaskExecutor interface {
	Execute(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error)
}

// ExecutorFunc adapts an ordinary function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
	return f(ctx, req)
}

// Validator checks the declared artifacts and targets of a task after its
// executor reported success. A non-nil error fails the attempt.
type Validator interface {
	Validate(ctx context.Context, task models.Task, outcome models.Outcome) error
}

// attemptOutcome is what a worker goroutine sends back before commit.
type attemptOutcome struct {
	task      models.Task
	attempt   int
	outcome   models.Outcome
	err       error
	startedAt time.Time
	duration  time.Duration
}

// runBatch dispatches the claimed tasks concurrently, bounded by
// maxParallel (0 = unlimited), and commits each outcome as it arrives on the
// results channel. It returns once every task in the batch has settled.
func (o *Orchestrator) runBatch(ctx context.Context, maxParallel int, batch models.Batch, tasks []models.Task) []models.TaskResult {
	if len(tasks) == 0 {
		return nil
	}

	batchStart := time.Now()
	if o.logger != nil {
		o.logger.LogBatchStart(batch)
	}

	maxConcurrency := maxParallel
	if maxConcurrency <= 0 || maxConcurrency > len(tasks) {
		maxConcurrency = len(tasks)
	}

	semaphore := make(chan struct{}, maxConcurrency)
	resultsCh := make(chan attemptOutcome, len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		semaphore <- struct{}{}
		wg.Add(1)

		go func(task models.Task) {
			defer wg.Done()
			defer func() { <-semaphore }()
			resultsCh <- o.attempt(ctx, task)
		}(task)
	}

	go func() {
		wg.Wait()
		close(resultsCh)
	}()

	committed := make(map[string]models.TaskResult, len(tasks))
	for out := range resultsCh {
		result := o.commit(ctx, out)
		committed[result.TaskID] = result
	}

	results := make([]models.TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if result, ok := committed[task.ID]; ok {
			results = append(results, result)
		}
	}

	if o.logger != nil {
		o.logger.LogBatchComplete(batch, time.Since(batchStart), results)
	}
	return results
}

// attempt runs one claimed task through the executor and validators.
// It never touches the graph beyond reading inputs; commit does that.
func (o *Orchestrator) attempt(ctx context.Context, task models.Task) attemptOutcome {
	out := attemptOutcome{
		task:      task,
		attempt:   task.RetriesUsed + 1,
		startedAt: time.Now(),
	}
	defer func() { out.duration = time.Since(out.startedAt) }()

	inputs, err := o.graph.Inputs(task.ID)
	if err != nil {
		out.err = NewTaskError(task.ID, PhaseDispatch, "resolve inputs", err)
		return out
	}

	req := models.ExecutionRequest{
		TaskID:   task.ID,
		TaskType: task.TaskType,
		Content:  task.Content,
		Inputs:   inputs,
		Attempt:  out.attempt,
	}

	outcome, err := o.invoke(ctx, req)
	out.outcome = outcome
	switch {
	case err != nil:
		out.err = err
		return out
	case !outcome.Success:
		out.err = &ExecutorError{TaskID: task.ID, Attempt: out.attempt, Message: outcome.Error}
		return out
	}

	if o.validator != nil {
		if err := o.validator.Validate(ctx, task, outcome); err != nil {
			out.err = NewTaskError(task.ID, PhaseValidation, "validation failed", err)
		}
	}
	return out
}

// invoke calls the executor under the per-task timeout. Run cancellation
// does not reach in-flight calls; only the timeout does. After the deadline
// the call is awaited for the grace period so the task never leaves
// InProgress while its executor is still running. A call that outlives the
// grace period is reported as abandoned.
func (o *Orchestrator) invoke(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
	callCtx := context.WithoutCancel(ctx)
	if o.taskTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, o.taskTimeout)
		defer cancel()
	}

	type reply struct {
		outcome models.Outcome
		err     error
	}
	replyCh := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				replyCh <- reply{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		outcome, err := o.executor.Execute(callCtx, req)
		replyCh <- reply{outcome: outcome, err: err}
	}()

	select {
	case r := <-replyCh:
		if r.err == nil {
			return r.outcome, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return r.outcome, NewTimeoutError(req.TaskID, o.taskTimeout)
		}
		var ee *ExecutorError
		if errors.As(r.err, &ee) {
			return r.outcome, r.err
		}
		return r.outcome, &ExecutorError{TaskID: req.TaskID, Attempt: req.Attempt, Err: r.err}
	case <-callCtx.Done():
	}

	grace := time.NewTimer(o.timeoutGrace)
	defer grace.Stop()
	select {
	case r := <-replyCh:
		return r.outcome, NewTimeoutError(req.TaskID, o.taskTimeout)
	case <-grace.C:
		te := NewTimeoutError(req.TaskID, o.taskTimeout)
		te.Abandoned = true
		return models.Outcome{}, te
	}
}

// commit applies one attempt to the graph and reports it.
func (o *Orchestrator) commit(ctx context.Context, out attemptOutcome) models.TaskResult {
	result := models.TaskResult{
		TaskID:    out.task.ID,
		TaskType:  out.task.TaskType,
		Attempt:   out.attempt,
		Duration:  out.duration,
		StartedAt: out.startedAt,
	}

	err := out.err
	if err == nil {
		if cerr := o.graph.Complete(out.task.ID, out.outcome.Result); cerr != nil {
			err = NewTaskError(out.task.ID, PhaseDispatch, "commit result", cerr)
		} else {
			result.Status = models.StatusCompleted
			result.Result = out.outcome.Result
		}
	}

	if err != nil {
		result.Error = err
		requeued, cascaded, ferr := o.graph.Fail(out.task.ID, err)
		if ferr != nil {
			// Only possible if the task left InProgress behind our back.
			result.Error = errors.Join(err, ferr)
			result.Status = models.StatusFailed
		} else if requeued {
			result.Status = models.StatusReady
			result.Requeued = true
		} else {
			result.Status = models.StatusFailed
			result.Cascaded = cascaded
		}
	}

	o.mu.Lock()
	o.attempts = append(o.attempts, result)
	o.mu.Unlock()

	if o.logger != nil {
		if logErr := o.logger.LogTaskResult(result); logErr != nil {
			o.logger.LogWarn(fmt.Sprintf("log result of task %s: %v", result.TaskID, logErr))
		}
		if len(result.Cascaded) > 0 {
			o.logger.LogCascade(result.TaskID, result.Cascaded)
		}
		o.logger.LogProgress(o.graph.Counts(), o.graph.Len())
	}
	if o.recorder != nil {
		if recErr := o.recorder.RecordAttempt(context.WithoutCancel(ctx), o.runID, result); recErr != nil && o.logger != nil {
			o.logger.LogWarn(fmt.Sprintf("record attempt of task %s: %v", result.TaskID, recErr))
		}
	}
	return result
}
