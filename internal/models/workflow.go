package models

import "time"

// Workflow is a parsed set of task declarations
type Workflow struct {
	Name     string // Workflow name
	Tasks    []Task // Tasks in declaration order
	FilePath string // Source file (absolute) when loaded from disk
}

// Batch is one topological layer of the dependency graph.
type Batch struct {
	Index   int      // 0-based layer index
	Name    string   // Display name, e.g. "Batch 1"
	TaskIDs []string // Task ids, priority desc then declaration order
}

// SnapshotVersion is the current checkpoint format.
const SnapshotVersion = 1

// Snapshot is the serializable state of a run: every task record with its
// status, retry counters, result and failure, plus the result store.
type Snapshot struct {
	Version  int            `json:"version"`
	RunID    string         `json:"run_id"`
	Workflow string         `json:"workflow,omitempty"`
	SavedAt  time.Time      `json:"saved_at"`
	Tasks    []Task         `json:"tasks"`
	Results  map[string]any `json:"results"`
}
