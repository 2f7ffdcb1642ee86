package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// FileLogger logs orchestrator events to a timestamped run log, appends every
// attempt of a task to tasks/<id>.log, and keeps a latest.log symlink
// pointing to the most recent run.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewFileLogger creates a FileLogger writing under logDir at the given level.
// The directory is created if missing.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log, with a numeric suffix when two runs share a second
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	for i := 1; os.IsExist(err) && i < 100; i++ {
		runFile = filepath.Join(logDir, fmt.Sprintf("run-%s-%d.log", stamp, i))
		file, err = os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== taskgraph run log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of this run's log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogBatchStart logs the start of a batch with its task ids.
func (fl *FileLogger) LogBatchStart(batch models.Batch) {
	if !fl.shouldLog("info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Starting %s: %s [%s]\n",
		timestamp(), batch.Name, pluralTasks(len(batch.TaskIDs)), strings.Join(batch.TaskIDs, ", ")))
}

// LogBatchComplete logs the end of a batch with its duration and tallies.
func (fl *FileLogger) LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult) {
	if !fl.shouldLog("info") {
		return
	}
	completed, failed, requeued := tallyResults(results)
	fl.writeRunLog(fmt.Sprintf("[%s] %s complete: duration %.1fs, %d completed, %d failed, %d retrying\n",
		timestamp(), batch.Name, duration.Seconds(), completed, failed, requeued))
}

// LogTaskResult writes a one-line entry to the run log and appends the
// attempt details to the task's own log file.
func (fl *FileLogger) LogTaskResult(result models.TaskResult) error {
	if fl.shouldLog("info") {
		line := fmt.Sprintf("[%s] Task %s attempt %d: %s", timestamp(), result.TaskID, result.Attempt, attemptLabel(result))
		if result.Error != nil {
			line += " - " + result.Error.Error()
		}
		fl.writeRunLog(line + "\n")
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()

	file, err := os.OpenFile(fl.TaskLogPath(result.TaskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open task log file: %w", err)
	}
	defer file.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "=== Task %s: attempt %d ===\n", result.TaskID, result.Attempt)
	if result.TaskType != "" {
		fmt.Fprintf(&b, "Type: %s\n", result.TaskType)
	}
	fmt.Fprintf(&b, "Status: %s\n", attemptLabel(result))
	fmt.Fprintf(&b, "Duration: %.1fs\n", result.Duration.Seconds())
	if !result.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started at: %s\n", result.StartedAt.Format(time.RFC3339))
	}
	if result.Result != nil {
		data, err := json.MarshalIndent(result.Result, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "Result:\n%v\n", result.Result)
		} else {
			fmt.Fprintf(&b, "Result:\n%s\n", data)
		}
	}
	if result.Error != nil {
		fmt.Fprintf(&b, "Error:\n%v\n", result.Error)
	}
	if len(result.Cascaded) > 0 {
		fmt.Fprintf(&b, "Cascaded to: %s\n", strings.Join(result.Cascaded, ", "))
	}
	b.WriteString("\n")

	if _, err := file.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}
	return nil
}

// TaskLogPath returns the per-task log file for id.
func (fl *FileLogger) TaskLogPath(id string) string {
	name := unsafeFileChars.ReplaceAllString(id, "_")
	return filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s.log", name))
}

func attemptLabel(result models.TaskResult) string {
	switch {
	case result.Succeeded():
		return "COMPLETED"
	case result.Requeued:
		return "RETRY"
	default:
		return "FAILED"
	}
}

// LogCascade records which dependents failed because root failed.
func (fl *FileLogger) LogCascade(root string, skipped []string) {
	if len(skipped) == 0 {
		return
	}
	fl.LogWarn(fmt.Sprintf("Task %s failed permanently; cascading failure to %s: %s",
		root, pluralTasks(len(skipped)), strings.Join(skipped, ", ")))
}

// LogProgress is a no-op: progress bars are console-only.
func (fl *FileLogger) LogProgress(counts models.StatusCounts, total int) {}

// LogSummary logs the final statistics and per-task outcomes.
func (fl *FileLogger) LogSummary(result models.ExecutionResult) {
	if !fl.shouldLog("info") {
		return
	}

	ts := timestamp()
	status := "SUCCESS"
	switch {
	case result.Cancelled:
		status = "CANCELLED"
	case !result.Success && result.Completed == 0:
		status = "FAILED"
	case !result.Success:
		status = "PARTIAL"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n[%s] === EXECUTION SUMMARY ===\n", ts)
	if result.RunID != "" {
		fmt.Fprintf(&b, "[%s] Run:          %s\n", ts, result.RunID)
	}
	fmt.Fprintf(&b, "[%s] Total tasks:  %d\n", ts, result.TotalTasks)
	fmt.Fprintf(&b, "[%s] Completed:    %d\n", ts, result.Completed)
	fmt.Fprintf(&b, "[%s] Failed:       %d\n", ts, result.Failed)
	fmt.Fprintf(&b, "[%s] Cascaded:     %d\n", ts, result.Cascaded)
	fmt.Fprintf(&b, "[%s] Not run:      %d\n", ts, result.NotRun)
	fmt.Fprintf(&b, "[%s] Total time:   %.1fs\n", ts, result.Duration.Seconds())
	fmt.Fprintf(&b, "[%s] Status:       %s (%d/%d tasks completed)\n", ts, status, result.Completed, result.TotalTasks)
	for _, report := range result.Tasks {
		fmt.Fprintf(&b, "[%s]   %s: %s\n", ts, report.ID, report.String())
	}
	fmt.Fprintf(&b, "[%s] Completed at: %s\n", ts, time.Now().Format(time.RFC3339))

	fl.writeRunLog(b.String())
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
