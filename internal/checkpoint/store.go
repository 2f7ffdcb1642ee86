// Package checkpoint persists run snapshots so an interrupted workflow can
// resume. Writes are atomic and serialized across processes with file locks.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/harrison/taskgraph/internal/models"
)

// ErrNoCheckpoint is returned by Load when no snapshot has been saved.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// ErrRunInProgress is returned by Acquire when another process owns the checkpoint.
var ErrRunInProgress = errors.New("another run holds the checkpoint")

// Store reads and writes one snapshot file. Save satisfies
// executor.Checkpointer.
type Store struct {
	path     string
	fileLock *flock.Flock // guards reads and writes of the snapshot file
	runLock  *flock.Flock // held for the lifetime of a run
}

// NewStore creates a store for the snapshot at path. The lock files live
// next to it as <path>.lock and <path>.run.lock.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
		runLock:  flock.New(path + ".run.lock"),
	}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Exists reports whether a snapshot file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Acquire claims the checkpoint for a run without blocking. The returned
// function releases it.
func (s *Store) Acquire() (func() error, error) {
	if err := ensureDir(s.path); err != nil {
		return nil, err
	}
	acquired, err := s.runLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", s.runLock.Path(), err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: %w", s.path, ErrRunInProgress)
	}
	return s.runLock.Unlock, nil
}

// Save writes snap atomically under an exclusive lock.
func (s *Store) Save(snap models.Snapshot) error {
	if snap.Version == 0 {
		snap.Version = models.SnapshotVersion
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := ensureDir(s.path); err != nil {
		return err
	}
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", s.fileLock.Path(), err)
	}
	defer s.fileLock.Unlock()

	return atomicWrite(s.path, data)
}

// Load reads the snapshot under a shared lock.
func (s *Store) Load() (*models.Snapshot, error) {
	if !s.Exists() {
		return nil, ErrNoCheckpoint
	}
	if err := s.fileLock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to acquire read lock on %s: %w", s.fileLock.Path(), err)
	}
	defer s.fileLock.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	if snap.Version != models.SnapshotVersion {
		return nil, fmt.Errorf("checkpoint %s has version %d, want %d", s.path, snap.Version, models.SnapshotVersion)
	}
	return &snap, nil
}

// Remove deletes the snapshot. A missing file is not an error.
func (s *Store) Remove() error {
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", s.fileLock.Path(), err)
	}
	defer s.fileLock.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// atomicWrite writes data to a temp file in the target directory and
// renames it over path, so readers never see a partial snapshot.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	tempFile = nil
	return nil
}
