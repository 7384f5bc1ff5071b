package contracts

import (
	"context"
	"time"
)

// =============================================================================
// Store Ports
// =============================================================================

// TaskStore is the durable keyed collection of tasks. All mutations are
// atomic with respect to concurrent planner/executor access.
type TaskStore interface {
	// Get returns a copy of the task, or ErrTaskNotFound.
	Get(id TaskID) (*Task, error)

	// Put inserts or replaces a task record.
	Put(task *Task) error

	// List returns copies of all tasks matching the filter, ordered by
	// (created_at, id) for determinism.
	List(filter Filter) ([]*Task, error)

	// Transition atomically moves a task from one status to another,
	// applying mutate (may be nil) under the same lock. from==to is a
	// no-op success. Disallowed transitions return ErrInvalidTransition;
	// a lost CAS race returns ErrConflict.
	Transition(id TaskID, from, to TaskStatus, mutate func(*Task)) error

	// BatchUpdate applies several mutations atomically.
	BatchUpdate(ids []TaskID, mutate func(*Task)) error
}

// CheckpointStore persists per-task step snapshots enabling resume.
type CheckpointStore interface {
	// Create writes a new checkpoint in state CREATED and returns its id.
	// Recording an existing id is rejected with ErrCheckpointExists.
	Create(taskID TaskID, step int, description string, data map[string]string, parent CheckpointID) (*Checkpoint, error)

	// Activate moves CREATED or RESTORED → ACTIVE.
	Activate(id CheckpointID) error

	// Complete moves ACTIVE → COMPLETED, merging finalData into the payload.
	Complete(id CheckpointID, finalData map[string]string) error

	// Fail moves ACTIVE → FAILED, recording the error.
	Fail(id CheckpointID, rec *ErrorRecord) error

	// Restore moves FAILED → RESTORED.
	Restore(id CheckpointID) error

	// Latest returns the most recent checkpoint for the task, or
	// ErrCheckpointNotFound.
	Latest(taskID TaskID) (*Checkpoint, error)

	// List returns checkpoints matching the filter, ordered by creation.
	List(filter CheckpointFilter) ([]*Checkpoint, error)

	// GC removes completed/failed checkpoints older than maxAge and
	// returns the number removed.
	GC(maxAge time.Duration) (int, error)
}

// =============================================================================
// Cost Control Ports
// =============================================================================

// BudgetGovernor is the admission controller for the cumulative token limit.
type BudgetGovernor interface {
	// Allow checks whether dispatching a task with the given estimated
	// cost fits the budget. In strict mode a violation returns
	// ErrBudgetExhausted (or ErrTaskBudget); in soft mode it returns nil
	// and emits a warning event.
	Allow(taskID TaskID, estimate TokenCount) error

	// Record adds actual usage reported by the tool for the task.
	Record(taskID TaskID, tokens TokenCount)

	// Snapshot returns a copy of cumulative usage.
	Snapshot() BudgetSnapshot
}

// TokenEstimator estimates the token cost of a prompt before dispatch.
type TokenEstimator interface {
	// Estimate returns the estimated token count for the prompt.
	Estimate(prompt string) TokenCount
}

// =============================================================================
// External Collaborator Ports
// =============================================================================

// Invoker runs the external LLM tool once. Implementations must honor
// context cancellation by terminating the child process.
type Invoker interface {
	// Invoke spawns the tool, feeds the prompt on stdin and parses the
	// structured output header.
	Invoke(ctx context.Context, req InvokeRequest) (*ToolOutput, error)
}

// EventSink receives terminal events (completion, failure, budget, shutdown).
type EventSink interface {
	Emit(ev Event)
}

// ProgressSink observes task status transitions.
type ProgressSink interface {
	Observe(id TaskID, from, to TaskStatus)
}
