// Package logger provides logging implementations for taskgraph runs.
//
// Every logger here satisfies executor.Logger: it receives batch, attempt,
// cascade, progress and summary events from the orchestrator. Implementations
// are thread-safe and write to a console, a run log file, or several sinks
// at once through Multi.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/taskgraph/internal/models"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs execution progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps for tracking execution flow.
// Color output is enabled only when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive); anything
// else falls back to info.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a TTY that should receive colors.
// NO_COLOR is honored through color.NoColor.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message.
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	label := level
	if cl.colorOutput {
		label = levelColor(level).Sprint(level)
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", timestamp(), label, message)
}

func levelColor(level string) *color.Color {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack)
	case "DEBUG":
		return color.New(color.FgCyan)
	case "WARN":
		return color.New(color.FgYellow)
	case "ERROR":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// write emits pre-formatted lines at the given level.
func (cl *ConsoleLogger) write(level string, text string) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	io.WriteString(cl.writer, text)
}

func (cl *ConsoleLogger) paint(c color.Attribute, s string) string {
	if !cl.colorOutput {
		return s
	}
	return color.New(c).Sprint(s)
}

// LogBatchStart logs the start of a batch at INFO level.
// Format: "[HH:MM:SS] Starting <name>: <count> tasks"
func (cl *ConsoleLogger) LogBatchStart(batch models.Batch) {
	name := cl.paint(color.Bold, batch.Name)
	cl.write("info", fmt.Sprintf("[%s] Starting %s: %s\n", timestamp(), name, pluralTasks(len(batch.TaskIDs))))
}

// LogBatchComplete logs the end of a batch at INFO level.
// Format: "[HH:MM:SS] <name> complete (<duration>): <ok> completed, <n> failed, <n> retrying"
func (cl *ConsoleLogger) LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult) {
	completed, failed, requeued := tallyResults(results)
	name := cl.paint(color.Bold, batch.Name)
	complete := cl.paint(color.FgGreen, "complete")
	if failed > 0 {
		complete = cl.paint(color.FgYellow, "complete")
	}
	cl.write("info", fmt.Sprintf("[%s] %s %s (%s): %d completed, %d failed, %d retrying\n",
		timestamp(), name, complete, formatDuration(duration), completed, failed, requeued))
}

// LogTaskResult logs one committed attempt. Completions log at INFO,
// retries and permanent failures at WARN.
// Format: "[HH:MM:SS] Task <id> (attempt <n>): <STATUS> (<duration>)[ - <error>]"
func (cl *ConsoleLogger) LogTaskResult(result models.TaskResult) error {
	if cl.writer == nil {
		return nil
	}

	level := "info"
	if !result.Succeeded() {
		level = "warn"
	}
	if !cl.shouldLog(level) {
		return nil
	}

	var status string
	switch {
	case result.Succeeded():
		status = cl.paint(color.FgGreen, "COMPLETED")
	case result.Requeued:
		status = cl.paint(color.FgYellow, "RETRY")
	default:
		status = cl.paint(color.FgRed, "FAILED")
	}

	message := fmt.Sprintf("[%s] Task %s (attempt %d): %s (%s)",
		timestamp(), result.TaskID, result.Attempt, status, formatDuration(result.Duration))
	if result.Error != nil {
		message += " - " + result.Error.Error()
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	_, err := io.WriteString(cl.writer, message+"\n")
	return err
}

// LogCascade logs the dependents failed because root failed permanently.
func (cl *ConsoleLogger) LogCascade(root string, skipped []string) {
	if len(skipped) == 0 {
		return
	}
	cl.LogWarn(fmt.Sprintf("Task %s failed permanently; cascading failure to %s: %s",
		root, pluralTasks(len(skipped)), strings.Join(skipped, ", ")))
}

// LogProgress logs how many tasks reached a terminal state.
// Format: "[HH:MM:SS] Progress: [====      ] 4/10 (40%) - 3 completed, 1 failed, 2 running"
func (cl *ConsoleLogger) LogProgress(counts models.StatusCounts, total int) {
	done := counts[models.StatusCompleted] + counts[models.StatusFailed]

	pb := NewProgressBar(total, 10, cl.colorOutput)
	pb.Update(done)

	cl.write("info", fmt.Sprintf("[%s] Progress: %s - %d completed, %d failed, %d running\n",
		timestamp(), pb.Render(),
		counts[models.StatusCompleted], counts[models.StatusFailed], counts[models.StatusInProgress]))
}

// LogSummary logs the execution summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result models.ExecutionResult) {
	ts := timestamp()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(color.Bold, "=== Execution Summary ==="))
	fmt.Fprintf(&b, "[%s] Total tasks: %d\n", ts, result.TotalTasks)
	fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(color.FgGreen, fmt.Sprintf("Completed: %d", result.Completed)))

	failedLine := fmt.Sprintf("Failed: %d", result.Failed)
	cascadedLine := fmt.Sprintf("Cascaded: %d", result.Cascaded)
	if result.Failed > 0 {
		failedLine = cl.paint(color.FgRed, failedLine)
	}
	if result.Cascaded > 0 {
		cascadedLine = cl.paint(color.FgYellow, cascadedLine)
	}
	fmt.Fprintf(&b, "[%s] %s\n", ts, failedLine)
	fmt.Fprintf(&b, "[%s] %s\n", ts, cascadedLine)
	if result.NotRun > 0 {
		fmt.Fprintf(&b, "[%s] Not run: %d\n", ts, result.NotRun)
	}
	fmt.Fprintf(&b, "[%s] Duration: %s\n", ts, formatDuration(result.Duration))
	if result.Cancelled {
		fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(color.FgYellow, "Run was cancelled before all tasks finished"))
	}

	if failed := result.FailedTasks(); len(failed) > 0 {
		fmt.Fprintf(&b, "[%s] %s\n", ts, cl.paint(color.FgRed, "Failed tasks:"))
		for _, report := range failed {
			line := fmt.Sprintf("[%s]   - %s: %s", ts, report.ID, report.String())
			if report.Error != "" && report.Outcome == models.OutcomeFailed {
				line += " - " + report.Error
			}
			b.WriteString(line + "\n")
		}
	}

	cl.write("info", b.String())
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

func pluralTasks(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}

func tallyResults(results []models.TaskResult) (completed, failed, requeued int) {
	for _, r := range results {
		switch {
		case r.Succeeded():
			completed++
		case r.Requeued:
			requeued++
		default:
			failed++
		}
	}
	return completed, failed, requeued
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "5s", "1m30s", "2h15m"; sub-second durations render as "250ms".
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder < time.Second {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder < time.Second {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

// NoOpLogger discards all events.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogBatchStart(batch models.Batch) {}

func (n *NoOpLogger) LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult) {
}

func (n *NoOpLogger) LogTaskResult(result models.TaskResult) error { return nil }

func (n *NoOpLogger) LogCascade(root string, skipped []string) {}

func (n *NoOpLogger) LogProgress(counts models.StatusCounts, total int) {}

func (n *NoOpLogger) LogWarn(message string) {}

func (n *NoOpLogger) LogSummary(result models.ExecutionResult) {}
