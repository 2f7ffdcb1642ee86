package executor

import (
	"fmt"
	"sort"
	"sync"
)

// ResultStore is the write-once map from task id and result key to a
// completed task's output. Entries are never overwritten.
type ResultStore struct {
	mu      sync.RWMutex
	entries map[string]any
	owners  map[string]string // key -> task id that wrote it
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		entries: make(map[string]any),
		owners:  make(map[string]string),
	}
}

// Put stores value under the raw task id and, when different, under key.
// It fails without writing anything if either name is already taken.
func (s *ResultStore) Put(taskID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := []string{taskID}
	if key != "" && key != taskID {
		names = append(names, key)
	}
	for _, name := range names {
		if owner, exists := s.owners[name]; exists {
			return fmt.Errorf("%w: %q (written by task %s)", ErrResultExists, name, owner)
		}
	}
	for _, name := range names {
		s.entries[name] = value
		s.owners[name] = taskID
	}
	return nil
}

// Get returns the value stored under name.
func (s *ResultStore) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[name]
	return v, ok
}

// Len returns the number of stored names.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns every stored name in sorted order.
func (s *ResultStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a shallow copy of every entry.
func (s *ResultStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
