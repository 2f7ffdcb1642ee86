package logger

import (
	"errors"
	"time"

	"github.com/harrison/taskgraph/internal/models"
)

// EventLogger is the set of events the orchestrator emits.
type EventLogger interface {
	LogBatchStart(batch models.Batch)
	LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult)
	LogTaskResult(result models.TaskResult) error
	LogCascade(root string, skipped []string)
	LogProgress(counts models.StatusCounts, total int)
	LogWarn(message string)
	LogSummary(result models.ExecutionResult)
}

// Multi fans every event out to several loggers in order.
type Multi struct {
	loggers []EventLogger
}

// NewMulti combines loggers; nil entries are skipped.
func NewMulti(loggers ...EventLogger) *Multi {
	m := &Multi{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *Multi) LogBatchStart(batch models.Batch) {
	for _, l := range m.loggers {
		l.LogBatchStart(batch)
	}
}

func (m *Multi) LogBatchComplete(batch models.Batch, duration time.Duration, results []models.TaskResult) {
	for _, l := range m.loggers {
		l.LogBatchComplete(batch, duration, results)
	}
}

// LogTaskResult returns the joined errors of every sink.
func (m *Multi) LogTaskResult(result models.TaskResult) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.LogTaskResult(result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) LogCascade(root string, skipped []string) {
	for _, l := range m.loggers {
		l.LogCascade(root, skipped)
	}
}

func (m *Multi) LogProgress(counts models.StatusCounts, total int) {
	for _, l := range m.loggers {
		l.LogProgress(counts, total)
	}
}

func (m *Multi) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

func (m *Multi) LogSummary(result models.ExecutionResult) {
	for _, l := range m.loggers {
		l.LogSummary(result)
	}
}
