// Package checkpoint persists per-task step snapshots under a root
// directory partitioned by state, enabling resume after crash or
// interruption.
//
// Layout:
//
//	<root>/active/    one file per CREATED/ACTIVE/RESTORED checkpoint
//	<root>/completed/ one file per COMPLETED checkpoint
//	<root>/failed/    one file per FAILED checkpoint
//	<root>/index      append-only "task_id<TAB>checkpoint_id" lines
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

const (
	dirActive    = "active"
	dirCompleted = "completed"
	dirFailed    = "failed"
	indexFile    = "index"
)

// record is the on-disk form: the checkpoint plus a content checksum.
type record struct {
	Checkpoint contracts.Checkpoint `json:"checkpoint"`
	Checksum   string               `json:"checksum"`
}

// Store implements contracts.CheckpointStore on the filesystem.
// Executors partition by task id, so there is no cross-task file
// contention; a single mutex guards the index.
type Store struct {
	mu    sync.Mutex
	root  string
	index map[contracts.TaskID][]contracts.CheckpointID
	log   zerolog.Logger
	now   func() time.Time
}

var _ contracts.CheckpointStore = (*Store)(nil)

// Open prepares the checkpoint root and loads the index. An index that
// disagrees with the directory contents is rebuilt from scratch.
func Open(root string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		root:  root,
		index: make(map[contracts.TaskID][]contracts.CheckpointID),
		log:   log.With().Str("component", "checkpoint").Logger(),
		now:   time.Now,
	}
	for _, d := range []string{dirActive, dirCompleted, dirFailed} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("creating checkpoint dir %s: %w", d, err)
		}
	}
	if err := s.loadIndex(); err != nil {
		s.log.Warn().Err(err).Msg("index inconsistent, rebuilding")
		if err := s.rebuildIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create writes a new checkpoint in state CREATED. A checkpoint id that
// already exists is rejected, never overwritten.
func (s *Store) Create(taskID contracts.TaskID, step int, description string, data map[string]string, parent contracts.CheckpointID) (*contracts.Checkpoint, error) {
	if taskID == "" || step < 1 {
		return nil, contracts.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id := contracts.CheckpointID(fmt.Sprintf("cp_%s_%d_%d", taskID, step, now.Unix()))
	if s.existsLocked(id) {
		return nil, fmt.Errorf("checkpoint %s: %w", id, contracts.ErrCheckpointExists)
	}

	cp := &contracts.Checkpoint{
		ID:          id,
		TaskID:      taskID,
		Step:        step,
		Description: description,
		State:       contracts.CheckpointCreated,
		Data:        data,
		ParentID:    parent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.writeLocked(cp, ""); err != nil {
		return nil, err
	}
	if err := s.appendIndexLocked(taskID, id); err != nil {
		return nil, err
	}
	s.index[taskID] = append(s.index[taskID], id)
	return cp.DeepCopy(), nil
}

// Activate moves CREATED or RESTORED → ACTIVE.
func (s *Store) Activate(id contracts.CheckpointID) error {
	return s.transition(id, contracts.CheckpointActive, nil, nil)
}

// Complete moves ACTIVE → COMPLETED, merging finalData into the payload.
func (s *Store) Complete(id contracts.CheckpointID, finalData map[string]string) error {
	return s.transition(id, contracts.CheckpointCompleted, finalData, nil)
}

// Fail moves ACTIVE → FAILED, recording the error.
func (s *Store) Fail(id contracts.CheckpointID, rec *contracts.ErrorRecord) error {
	return s.transition(id, contracts.CheckpointFailed, nil, rec)
}

// Restore moves FAILED → RESTORED.
func (s *Store) Restore(id contracts.CheckpointID) error {
	return s.transition(id, contracts.CheckpointRestored, nil, nil)
}

// transition loads, validates, rewrites and repartitions one checkpoint.
func (s *Store) transition(id contracts.CheckpointID, to contracts.CheckpointState, mergeData map[string]string, rec *contracts.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, oldPath, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	if !contracts.CanTransitionCheckpoint(cp.State, to) {
		return fmt.Errorf("checkpoint %s: %s -> %s: %w", id, cp.State, to, contracts.ErrInvalidTransition)
	}

	cp.State = to
	cp.UpdatedAt = s.now().UTC()
	if rec != nil {
		cp.Error = rec
	}
	if len(mergeData) > 0 {
		if cp.Data == nil {
			cp.Data = make(map[string]string, len(mergeData))
		}
		for k, v := range mergeData {
			cp.Data[k] = v
		}
	}

	if err := s.writeLocked(cp, oldPath); err != nil {
		return err
	}
	s.log.Debug().Str("checkpoint", string(id)).Stringer("state", to).Msg("checkpoint transition")
	return nil
}

// Latest returns the most recent checkpoint for the task.
func (s *Store) Latest(taskID contracts.TaskID) (*contracts.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.index[taskID]
	if len(ids) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, contracts.ErrCheckpointNotFound)
	}
	cp, _, err := s.loadLocked(ids[len(ids)-1])
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// List returns checkpoints matching the filter in creation order.
func (s *Store) List(filter contracts.CheckpointFilter) ([]*contracts.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []contracts.TaskID
	if filter.TaskID != "" {
		tasks = []contracts.TaskID{filter.TaskID}
	} else {
		for id := range s.index {
			tasks = append(tasks, id)
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })
	}

	var out []*contracts.Checkpoint
	for _, taskID := range tasks {
		for _, id := range s.index[taskID] {
			cp, _, err := s.loadLocked(id)
			if err != nil {
				return nil, err
			}
			if filter.State != nil && cp.State != *filter.State {
				continue
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

// GC removes completed/failed checkpoints older than maxAge and rewrites
// the index. Active checkpoints are never collected.
func (s *Store) GC(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	removed := 0
	kept := make(map[contracts.TaskID][]contracts.CheckpointID)

	for taskID, ids := range s.index {
		for _, id := range ids {
			cp, path, err := s.loadLocked(id)
			if err != nil {
				return removed, err
			}
			collectable := cp.State == contracts.CheckpointCompleted || cp.State == contracts.CheckpointFailed
			if collectable && cp.UpdatedAt.Before(cutoff) {
				if err := os.Remove(path); err != nil {
					return removed, fmt.Errorf("removing checkpoint %s: %w", id, err)
				}
				removed++
				continue
			}
			kept[taskID] = append(kept[taskID], id)
		}
		if len(kept[taskID]) == 0 {
			delete(kept, taskID)
		}
	}

	s.index = kept
	if err := s.rewriteIndexLocked(); err != nil {
		return removed, err
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("checkpoint gc")
	}
	return removed, nil
}

// stateDir maps a checkpoint state to its partition directory.
func stateDir(state contracts.CheckpointState) string {
	switch state {
	case contracts.CheckpointCompleted:
		return dirCompleted
	case contracts.CheckpointFailed:
		return dirFailed
	default:
		return dirActive
	}
}

// checksum is the xxhash64 digest of the canonical checkpoint encoding.
func checksum(cp *contracts.Checkpoint) (string, error) {
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encoding checkpoint %s: %w", cp.ID, err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

// writeLocked writes the checkpoint atomically (tempfile + rename) into
// its state partition and removes the previous file if it moved.
// Caller must hold s.mu.
func (s *Store) writeLocked(cp *contracts.Checkpoint, oldPath string) error {
	sum, err := checksum(cp)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(&record{Checkpoint: *cp, Checksum: sum}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", cp.ID, err)
	}

	path := filepath.Join(s.root, stateDir(cp.State), string(cp.ID))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint %s: %w", cp.ID, err)
	}
	if oldPath != "" && oldPath != path {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale checkpoint file %s: %w", oldPath, err)
		}
	}
	return nil
}

// loadLocked reads a checkpoint from whichever partition holds it and
// verifies the content checksum. Caller must hold s.mu.
func (s *Store) loadLocked(id contracts.CheckpointID) (*contracts.Checkpoint, string, error) {
	for _, d := range []string{dirActive, dirCompleted, dirFailed} {
		path := filepath.Join(s.root, d, string(id))
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("reading checkpoint %s: %w", id, err)
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, "", fmt.Errorf("checkpoint %s: %v: %w", id, err, contracts.ErrCorruptCheckpoint)
		}
		sum, err := checksum(&rec.Checkpoint)
		if err != nil {
			return nil, "", err
		}
		if sum != rec.Checksum {
			return nil, "", fmt.Errorf("checkpoint %s: stored %s computed %s: %w", id, rec.Checksum, sum, contracts.ErrCorruptCheckpoint)
		}
		return &rec.Checkpoint, path, nil
	}
	return nil, "", fmt.Errorf("checkpoint %s: %w", id, contracts.ErrCheckpointNotFound)
}

// existsLocked reports whether the id is present in any partition.
func (s *Store) existsLocked(id contracts.CheckpointID) bool {
	for _, d := range []string{dirActive, dirCompleted, dirFailed} {
		if _, err := os.Stat(filepath.Join(s.root, d, string(id))); err == nil {
			return true
		}
	}
	return false
}

// appendIndexLocked appends one index line. The index is append-only in
// normal operation; it is rewritten only by GC and rebuild.
func (s *Store) appendIndexLocked(taskID contracts.TaskID, id contracts.CheckpointID) error {
	f, err := os.OpenFile(filepath.Join(s.root, indexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening checkpoint index: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "%s\t%s\n", taskID, id); err != nil {
		return fmt.Errorf("appending checkpoint index: %w", err)
	}
	return nil
}

// loadIndex parses the index file and verifies every entry resolves to a
// file on disk. Any inconsistency is an error so the caller can rebuild.
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s.verifyIndexCovers()
		}
		return err
	}

	for n, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		taskID, cpID, ok := strings.Cut(line, "\t")
		if !ok || taskID == "" || cpID == "" {
			return fmt.Errorf("index line %d malformed: %q", n+1, line)
		}
		id := contracts.CheckpointID(cpID)
		if !s.existsLocked(id) {
			return fmt.Errorf("index references missing checkpoint %s", id)
		}
		s.index[contracts.TaskID(taskID)] = append(s.index[contracts.TaskID(taskID)], id)
	}
	return s.verifyIndexCovers()
}

// verifyIndexCovers checks that every checkpoint file has an index entry.
func (s *Store) verifyIndexCovers() error {
	indexed := make(map[contracts.CheckpointID]bool)
	for _, ids := range s.index {
		for _, id := range ids {
			indexed[id] = true
		}
	}
	for _, d := range []string{dirActive, dirCompleted, dirFailed} {
		entries, err := os.ReadDir(filepath.Join(s.root, d))
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !indexed[contracts.CheckpointID(e.Name())] {
				return fmt.Errorf("checkpoint %s not in index", e.Name())
			}
		}
	}
	return nil
}

// rebuildIndex reconstructs the index from a directory scan, ordered by
// creation time then id.
func (s *Store) rebuildIndex() error {
	s.index = make(map[contracts.TaskID][]contracts.CheckpointID)

	var all []*contracts.Checkpoint
	for _, d := range []string{dirActive, dirCompleted, dirFailed} {
		entries, err := os.ReadDir(filepath.Join(s.root, d))
		if err != nil {
			return err
		}
		for _, e := range entries {
			cp, _, err := s.loadLocked(contracts.CheckpointID(e.Name()))
			if err != nil {
				return fmt.Errorf("rebuilding index: %w", err)
			}
			all = append(all, cp)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	for _, cp := range all {
		s.index[cp.TaskID] = append(s.index[cp.TaskID], cp.ID)
	}
	return s.rewriteIndexLocked()
}

// rewriteIndexLocked writes the full index atomically. Caller must hold s.mu
// (or be called before the store is shared).
func (s *Store) rewriteIndexLocked() error {
	var b strings.Builder
	tasks := make([]contracts.TaskID, 0, len(s.index))
	for id := range s.index {
		tasks = append(tasks, id)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })
	for _, taskID := range tasks {
		for _, id := range s.index[taskID] {
			fmt.Fprintf(&b, "%s\t%s\n", taskID, id)
		}
	}
	if err := renameio.WriteFile(filepath.Join(s.root, indexFile), []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("rewriting checkpoint index: %w", err)
	}
	return nil
}
