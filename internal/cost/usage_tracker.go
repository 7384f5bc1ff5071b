// Package cost provides the budget governor, usage tracking and token
// estimation around every external invocation.
package cost

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// Tracker accumulates token usage with a per-task breakdown.
// Thread-safe for concurrent access using sync.Mutex.
type Tracker struct {
	mu      sync.Mutex
	total   contracts.TokenCount
	perTask map[contracts.TaskID]contracts.TokenCount
	resetAt time.Time
}

// NewTracker creates an empty Tracker. The reset point anchors the
// wall-clock window the totals belong to.
func NewTracker() *Tracker {
	return &Tracker{
		perTask: make(map[contracts.TaskID]contracts.TokenCount),
		resetAt: time.Now().UTC(),
	}
}

// Add records tool-reported usage for a task. Whatever the tool reports
// is authoritative; the engine never re-derives token counts.
func (t *Tracker) Add(taskID contracts.TaskID, tokens contracts.TokenCount) {
	if tokens <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += tokens
	t.perTask[taskID] += tokens
}

// Total returns cumulative usage.
func (t *Tracker) Total() contracts.TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Task returns cumulative usage for one task.
func (t *Tracker) Task(taskID contracts.TaskID) contracts.TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perTask[taskID]
}

// Snapshot returns a copy of the current usage.
func (t *Tracker) Snapshot() contracts.BudgetSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	per := make(map[contracts.TaskID]contracts.TokenCount, len(t.perTask))
	for k, v := range t.perTask {
		per[k] = v
	}
	return contracts.BudgetSnapshot{
		TokensUsed: t.total,
		PerTask:    per,
		ResetAt:    t.resetAt,
	}
}

// Persist writes the snapshot atomically. Called at shutdown.
func (t *Tracker) Persist(path string) error {
	snap := t.Snapshot()
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding usage snapshot: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing usage snapshot %s: %w", path, err)
	}
	return nil
}
