package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/taskgraph/internal/models"
	"github.com/harrison/taskgraph/internal/validation"
)

// scriptedExecutor answers each task from a per-task script of outcomes and
// records every request it receives.
type scriptedExecutor struct {
	mu       sync.Mutex
	scripts  map[string][]models.Outcome
	requests []models.ExecutionRequest
	calls    map[string]int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{scripts: make(map[string][]models.Outcome), calls: make(map[string]int)}
}

func (s *scriptedExecutor) on(id string, outcomes ...models.Outcome) *scriptedExecutor {
	s.scripts[id] = outcomes
	return s
}

func (s *scriptedExecutor) Execute(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	n := s.calls[req.TaskID]
	s.calls[req.TaskID]++

	script := s.scripts[req.TaskID]
	if len(script) == 0 {
		return models.Outcome{Success: true, Result: "ok:" + req.TaskID}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n], nil
}

func (s *scriptedExecutor) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *scriptedExecutor) request(id string) (models.ExecutionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.TaskID == id {
			return r, true
		}
	}
	return models.ExecutionRequest{}, false
}

func runAll(t *testing.T, tasks []models.Task, exec TaskExecutor, opts Options) (*models.ExecutionResult, *DependencyGraph) {
	t.Helper()
	g, err := BuildDependencyGraph(tasks)
	require.NoError(t, err)
	summary, err := NewOrchestrator(g, exec, opts).ExecuteAll(context.Background())
	require.NoError(t, err)
	return summary, g
}

func report(t *testing.T, summary *models.ExecutionResult, id string) models.TaskReport {
	t.Helper()
	for _, r := range summary.Tasks {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("no report for task %s", id)
	return models.TaskReport{}
}

func TestExecuteAll_TargetValidation(t *testing.T) {
	tests := []struct {
		name     string
		accuracy float64
		want     models.TaskStatus
	}{
		{name: "target met", accuracy: 0.95, want: models.StatusCompleted},
		{name: "target missed", accuracy: 0.8, want: models.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train := models.NewTask("train", "train the model")
			train.Target = &models.Target{Metric: "accuracy", Operator: models.OpGreaterEqual, Value: 0.9}

			exec := newScriptedExecutor().on("train", models.Outcome{
				Success: true,
				Result:  map[string]any{"accuracy": tt.accuracy},
			})
			summary, g := runAll(t, []models.Task{train}, exec, Options{Validator: validation.New(t.TempDir())})

			got, _ := g.Task("train")
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == models.StatusCompleted, summary.Success)
			if tt.want == models.StatusFailed {
				require.NotNil(t, got.Failure)
				assert.Equal(t, models.FailureValidation, got.Failure.Kind)
			}
		})
	}
}

func TestExecuteAll_FileArtifactMustExist(t *testing.T) {
	dir := t.TempDir()
	write := models.NewTask("write", "write out.json")
	write.Produces = "file:out.json"

	t.Run("missing file overrides executor success", func(t *testing.T) {
		exec := newScriptedExecutor()
		summary, g := runAll(t, []models.Task{write}, exec, Options{Validator: validation.New(dir)})

		got, _ := g.Task("write")
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, "Failed (own error)", report(t, summary, "write").String())
		assert.False(t, summary.Success)
	})

	t.Run("present file completes", func(t *testing.T) {
		exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
			err := os.WriteFile(filepath.Join(dir, "out.json"), []byte(`{"ok":true}`), 0o644)
			return models.Outcome{Success: err == nil, Result: "written"}, err
		})
		summary, _ := runAll(t, []models.Task{write}, exec, Options{Validator: validation.New(dir)})
		assert.True(t, summary.Success)
	})
}

func TestExecuteAll_IndependentTasksRunConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		peak    int
		order   []string
	)
	bothStarted := make(chan struct{})
	var startedCount int32

	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		order = append(order, req.TaskID)
		mu.Unlock()

		if req.TaskID != "c" {
			if atomic.AddInt32(&startedCount, 1) == 2 {
				close(bothStarted)
			}
			select {
			case <-bothStarted:
			case <-time.After(2 * time.Second):
			}
		}

		mu.Lock()
		running--
		mu.Unlock()
		return models.Outcome{Success: true, Result: req.TaskID}, nil
	})

	summary, _ := runAll(t, []models.Task{task("a"), task("b"), task("c", "a", "b")}, exec, Options{MaxParallel: 2})

	assert.True(t, summary.Success)
	assert.Equal(t, 2, peak, "a and b should overlap")
	require.Len(t, order, 3)
	assert.Equal(t, "c", order[2], "c starts only after a and b")
}

func TestExecuteAll_SerialTaskRunsAlone(t *testing.T) {
	var running, peakWithSolo int32
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		if req.TaskID == "solo" {
			time.Sleep(10 * time.Millisecond)
			peakWithSolo = max(n, atomic.LoadInt32(&running))
		}
		return models.Outcome{Success: true, Result: 1}, nil
	})

	solo := task("solo")
	solo.CanParallel = false
	solo.Priority = models.PriorityHigh
	summary, _ := runAll(t, []models.Task{task("a"), solo, task("b")}, exec, Options{MaxParallel: 4})

	assert.True(t, summary.Success)
	assert.Equal(t, int32(1), peakWithSolo)
}

func TestExecuteAll_ResultKeyFeedsDependents(t *testing.T) {
	a := task("a")
	a.ResultKey = "foo"
	exec := newScriptedExecutor().on("a", models.Outcome{Success: true, Result: map[string]any{"n": 42}})

	summary, _ := runAll(t, []models.Task{a, task("b", "a")}, exec, Options{})
	require.True(t, summary.Success)

	req, ok := exec.request("b")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"foo": map[string]any{"n": 42}}, req.Inputs)
	assert.Contains(t, summary.Results, "foo")
	assert.Contains(t, summary.Results, "a")
}

func TestExecuteAll_RetryThenSucceed(t *testing.T) {
	flaky := task("flaky")
	flaky.MaxRetries = 3
	exec := newScriptedExecutor().on("flaky",
		models.Outcome{Success: false, Error: "first"},
		models.Outcome{Success: false, Error: "second"},
		models.Outcome{Success: true, Result: "third time"},
	)

	summary, g := runAll(t, []models.Task{flaky}, exec, Options{})

	got, _ := g.Task("flaky")
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.RetriesUsed)
	assert.Equal(t, 3, exec.callCount("flaky"))
	assert.Equal(t, "third time", got.Result)

	require.Len(t, summary.Attempts, 3)
	assert.True(t, summary.Attempts[0].Requeued)
	assert.True(t, summary.Attempts[1].Requeued)
	assert.Equal(t, 3, summary.Attempts[2].Attempt)
	assert.True(t, summary.Attempts[2].Succeeded())
}

func TestExecuteAll_CascadeSkipsDependents(t *testing.T) {
	a := task("A")
	a.MaxRetries = 2
	exec := newScriptedExecutor().on("A", models.Outcome{Success: false, Error: "always broken"})

	summary, g := runAll(t, []models.Task{a, task("B"), task("C", "A"), task("D", "C")}, exec, Options{})

	assert.Equal(t, 2, exec.callCount("A"))
	assert.Zero(t, exec.callCount("C"), "cascaded task must never be executed")
	assert.Zero(t, exec.callCount("D"))
	assert.Equal(t, 1, exec.callCount("B"))

	assert.Equal(t, "Failed (own error)", report(t, summary, "A").String())
	assert.Equal(t, "Failed (cascaded from A)", report(t, summary, "C").String())
	assert.Equal(t, "Failed (cascaded from A)", report(t, summary, "D").String())
	assert.Equal(t, "Completed", report(t, summary, "B").String())

	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Cascaded)
	assert.False(t, summary.Success)
	assert.Len(t, summary.FailedTasks(), 3)

	c, _ := g.Task("C")
	assert.Equal(t, models.FailureCascade, c.Failure.Kind)
}

func TestExecuteAll_Timeout(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		<-ctx.Done()
		return models.Outcome{}, ctx.Err()
	})

	summary, g := runAll(t, []models.Task{task("slow")}, exec, Options{TaskTimeout: 20 * time.Millisecond})

	got, _ := g.Task("slow")
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.Failure)
	assert.Equal(t, models.FailureTimeout, got.Failure.Kind)
	require.Len(t, summary.Attempts, 1)
	assert.True(t, IsTimeoutError(summary.Attempts[0].Error))
}

func TestExecuteAll_ExecutorError(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		return models.Outcome{}, errors.New("exec: not found")
	})

	summary, g := runAll(t, []models.Task{task("a")}, exec, Options{})

	got, _ := g.Task("a")
	assert.Equal(t, models.FailureExecutor, got.Failure.Kind)
	assert.ErrorIs(t, summary.Attempts[0].Error, ErrExecutor)
}

func TestExecuteAll_CancelledBeforeStart(t *testing.T) {
	g, err := BuildDependencyGraph([]models.Task{task("a"), task("b", "a")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newScriptedExecutor()
	summary, err := NewOrchestrator(g, exec, Options{}).ExecuteAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 2, summary.NotRun)
	assert.Len(t, summary.Tasks, 2)
	assert.Zero(t, exec.callCount("a"))
}

func TestExecuteAll_CancelLetsInFlightFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := ExecutorFunc(func(callCtx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		cancel()
		time.Sleep(10 * time.Millisecond)
		if callCtx.Err() != nil {
			return models.Outcome{}, callCtx.Err()
		}
		return models.Outcome{Success: true, Result: "done"}, nil
	})

	g, err := BuildDependencyGraph([]models.Task{task("a"), task("b", "a")})
	require.NoError(t, err)
	summary, err := NewOrchestrator(g, exec, Options{}).ExecuteAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Completed", report(t, summary, "a").String())
	assert.Equal(t, models.OutcomeNotRun, report(t, summary, "b").Outcome)
}

func TestExecuteNext(t *testing.T) {
	hi := task("hi")
	hi.Priority = models.PriorityHigh
	g, err := BuildDependencyGraph([]models.Task{task("lo"), hi})
	require.NoError(t, err)

	orch := NewOrchestrator(g, newScriptedExecutor(), Options{})

	result, ok, err := orch.ExecuteNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hi", result.TaskID)
	assert.True(t, result.Succeeded())

	result, ok, err = orch.ExecuteNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lo", result.TaskID)

	_, ok, err = orch.ExecuteNext(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

type recordingCheckpointer struct {
	mu    sync.Mutex
	saves []models.Snapshot
}

func (r *recordingCheckpointer) Save(s models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, s)
	return nil
}

type recordingRecorder struct {
	mu       sync.Mutex
	started  string
	attempts int
	finished *models.ExecutionResult
}

func (r *recordingRecorder) StartRun(ctx context.Context, runID, workflow string, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = runID
	return nil
}

// RecordAttempt fails on a cancelled context the way a database insert does.
func (r *recordingRecorder) RecordAttempt(ctx context.Context, runID string, result models.TaskResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	return nil
}

func (r *recordingRecorder) FinishRun(ctx context.Context, runID string, result models.ExecutionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = &result
	return nil
}

func TestExecuteAll_CheckpointsAndHistory(t *testing.T) {
	cp := &recordingCheckpointer{}
	rec := &recordingRecorder{}

	summary, _ := runAll(t,
		[]models.Task{task("a"), task("b", "a"), task("c", "b")},
		newScriptedExecutor(),
		Options{RunID: "run-42", Workflow: "chain", Checkpointer: cp, Recorder: rec},
	)

	assert.Equal(t, "run-42", summary.RunID)
	require.Len(t, cp.saves, 3, "one checkpoint per batch")
	last := cp.saves[len(cp.saves)-1]
	assert.Equal(t, "chain", last.Workflow)
	for _, task := range last.Tasks {
		assert.Equal(t, models.StatusCompleted, task.Status)
	}

	assert.Equal(t, "run-42", rec.started)
	assert.Equal(t, 3, rec.attempts)
	require.NotNil(t, rec.finished)
	assert.True(t, rec.finished.Success)
}

func TestNewOrchestrator_GeneratesRunID(t *testing.T) {
	g, err := BuildDependencyGraph(nil)
	require.NoError(t, err)
	orch := NewOrchestrator(g, newScriptedExecutor(), Options{})
	assert.NotEmpty(t, orch.RunID())

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Success, "an empty workflow trivially succeeds")
}

func TestNewOrchestrator_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewOrchestrator(nil, newScriptedExecutor(), Options{}) })
	g, _ := BuildDependencyGraph(nil)
	assert.Panics(t, func() { NewOrchestrator(g, nil, Options{}) })
}

func TestExecuteAll_CancelStillRecordsInFlightAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := ExecutorFunc(func(callCtx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		cancel()
		return models.Outcome{Success: true, Result: "done"}, nil
	})
	rec := &recordingRecorder{}

	g, err := BuildDependencyGraph([]models.Task{task("a"), task("b", "a")})
	require.NoError(t, err)
	summary, err := NewOrchestrator(g, exec, Options{Recorder: rec}).ExecuteAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, rec.attempts, "attempt finished after cancel is still written to history")
	require.NotNil(t, rec.finished)
	assert.True(t, rec.finished.Cancelled)
}

func TestExecuteAll_TimedOutCallNeverOverlapsRetry(t *testing.T) {
	var running, peak, calls int32
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		atomic.AddInt32(&calls, 1)
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		defer atomic.AddInt32(&running, -1)
		time.Sleep(100 * time.Millisecond) // ignores ctx
		return models.Outcome{Success: true}, nil
	})

	slow := task("A")
	slow.MaxRetries = 3
	summary, g := runAll(t, []models.Task{slow}, exec, Options{TaskTimeout: 20 * time.Millisecond})

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "a retry must not start while the previous call runs")
	got, _ := g.Task("A")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.FailureTimeout, got.Failure.Kind)
	require.Len(t, summary.Attempts, 3)
	for _, a := range summary.Attempts {
		assert.True(t, IsTimeoutError(a.Error))
	}
}

func TestExecuteAll_AbandonedCallIsNotRetried(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls int32
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return models.Outcome{Success: true}, nil
	})

	stuck := task("A")
	stuck.MaxRetries = 3
	summary, g := runAll(t, []models.Task{stuck, task("B", "A")}, exec, Options{
		TaskTimeout:  10 * time.Millisecond,
		TimeoutGrace: 10 * time.Millisecond,
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	got, _ := g.Task("A")
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.FailureTimeout, got.Failure.Kind)
	assert.Contains(t, got.Failure.Message, "abandoned")
	assert.Equal(t, "A", report(t, summary, "B").CascadedFrom)
}

func TestRunBatch_MaxParallel(t *testing.T) {
	tests := []struct {
		name        string
		maxParallel int
		wantSizes   []int
	}{
		{name: "bounded", maxParallel: 2, wantSizes: []int{2, 2, 1}},
		{name: "unlimited", maxParallel: 0, wantSizes: []int{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := []models.Task{task("a"), task("b"), task("c"), task("d"), task("e")}
			g, err := BuildDependencyGraph(tasks)
			require.NoError(t, err)
			orch := NewOrchestrator(g, newScriptedExecutor(), Options{MaxParallel: 1})

			var sizes []int
			for {
				results, err := orch.RunBatch(context.Background(), tt.maxParallel)
				require.NoError(t, err)
				if len(results) == 0 {
					break
				}
				sizes = append(sizes, len(results))
			}
			assert.Equal(t, tt.wantSizes, sizes)
		})
	}
}

func TestExecuteReadyParallel_UsesGivenBound(t *testing.T) {
	var running, peak int32
	exec := ExecutorFunc(func(ctx context.Context, req models.ExecutionRequest) (models.Outcome, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return models.Outcome{Success: true}, nil
	})

	g, err := BuildDependencyGraph([]models.Task{task("a"), task("b"), task("c"), task("d")})
	require.NoError(t, err)
	orch := NewOrchestrator(g, exec, Options{MaxParallel: 1})

	require.NoError(t, orch.ExecuteReadyParallel(context.Background(), 4))
	assert.Equal(t, int32(4), atomic.LoadInt32(&peak))
	assert.Equal(t, 4, orch.Summary(0).Completed)
}
