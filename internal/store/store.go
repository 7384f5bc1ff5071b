// Package store provides the durable task store: an in-memory index with
// write-through JSON persistence and atomic status transitions.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// taskFile is the on-disk schema: a single human-readable JSON document.
type taskFile struct {
	Tasks []*contracts.Task `json:"tasks"`
}

// Store implements contracts.TaskStore. A single mutex serializes all
// writers; reads return deep copies so callers never alias store state.
type Store struct {
	mu       sync.Mutex
	path     string
	tasks    map[contracts.TaskID]*contracts.Task
	progress contracts.ProgressSink
	log      zerolog.Logger
}

var _ contracts.TaskStore = (*Store)(nil)

// Open loads the task file at path. A missing file yields an empty store;
// a corrupted file aborts startup (no silent recovery).
func Open(path string, progress contracts.ProgressSink, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		tasks:    make(map[contracts.TaskID]*contracts.Task),
		progress: progress,
		log:      log.With().Str("component", "store").Logger(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading task file %s: %w", path, err)
	}

	var file taskFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("task file %s: %v: %w", path, err, contracts.ErrStoreCorrupt)
	}
	for _, t := range file.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("task file %s: task with empty id: %w", path, contracts.ErrStoreCorrupt)
		}
		if _, exists := s.tasks[t.ID]; exists {
			return nil, fmt.Errorf("task file %s: duplicate id %s: %w", path, t.ID, contracts.ErrStoreCorrupt)
		}
		s.tasks[t.ID] = t
	}

	s.log.Info().Int("tasks", len(s.tasks)).Str("path", path).Msg("task store loaded")
	return s, nil
}

// Get returns a copy of the task, or ErrTaskNotFound.
func (s *Store) Get(id contracts.TaskID) (*contracts.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", id, contracts.ErrTaskNotFound)
	}
	return task.Clone(), nil
}

// Put inserts or replaces a task record and flushes. Dependencies must
// resolve to tasks already in the store (or to the task itself being put).
func (s *Store) Put(task *contracts.Task) error {
	if task == nil || task.ID == "" {
		return contracts.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dep := range task.Dependencies {
		if dep == task.ID {
			return fmt.Errorf("task %s depends on itself: %w", task.ID, contracts.ErrInvalidInput)
		}
		if _, exists := s.tasks[dep]; !exists {
			return fmt.Errorf("task %s depends on %s: %w", task.ID, dep, contracts.ErrTaskNotFound)
		}
	}

	c := task.Clone()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Version == 0 {
		c.Version = 1
	}
	s.tasks[c.ID] = c

	return s.flushLocked()
}

// List returns copies of all tasks matching the filter, ordered by
// (created_at, id). This ordering is stable across runs.
func (s *Store) List(filter contracts.Filter) ([]*contracts.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*contracts.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Transition atomically moves a task from one status to another.
// from==to is a no-op success (mutate is not applied). A task whose
// current status is not `from` loses the CAS and gets ErrConflict: all
// writers are serialized by one mutex, so a stale expectation cannot
// heal by re-reading under the same lock.
func (s *Store) Transition(id contracts.TaskID, from, to contracts.TaskStatus, mutate func(*contracts.Task)) error {
	if !contracts.CanTransition(from, to) {
		return fmt.Errorf("task %s: %s -> %s: %w", id, from, to, contracts.ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s: %w", id, contracts.ErrTaskNotFound)
	}

	if from == to && task.Status == from {
		return nil
	}
	if task.Status != from {
		return fmt.Errorf("task %s: status is %s, expected %s: %w",
			id, task.Status, from, contracts.ErrConflict)
	}

	task.Status = to
	if mutate != nil {
		mutate(task)
	}
	task.Version++
	task.UpdatedAt = time.Now().UTC()

	if err := s.flushLocked(); err != nil {
		return err
	}
	if s.progress != nil {
		s.progress.Observe(id, from, to)
	}
	s.log.Debug().Str("task", string(id)).
		Stringer("from", from).Stringer("to", to).Msg("transition")
	return nil
}

// BatchUpdate applies one mutation to several tasks under a single lock
// and a single flush.
func (s *Store) BatchUpdate(ids []contracts.TaskID, mutate func(*contracts.Task)) error {
	if mutate == nil {
		return contracts.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		task, exists := s.tasks[id]
		if !exists {
			return fmt.Errorf("task %s: %w", id, contracts.ErrTaskNotFound)
		}
		mutate(task)
		task.Version++
		task.UpdatedAt = time.Now().UTC()
	}
	return s.flushLocked()
}

// Flush forces a write of the current state. Used at shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the full task set atomically (tempfile + rename).
// Caller must hold s.mu.
func (s *Store) flushLocked() error {
	file := taskFile{Tasks: make([]*contracts.Task, 0, len(s.tasks))}
	for _, t := range s.tasks {
		file.Tasks = append(file.Tasks, t)
	}
	sort.Slice(file.Tasks, func(i, j int) bool {
		return file.Tasks[i].ID < file.Tasks[j].ID
	})

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task file: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing task file %s: %w", s.path, err)
	}
	return nil
}

// IsFatal reports whether a store error must abort the engine.
func IsFatal(err error) bool {
	return errors.Is(err, contracts.ErrStoreCorrupt)
}
