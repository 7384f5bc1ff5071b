package contracts

import (
	"encoding/json"
	"fmt"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskReady
	TaskRunning
	TaskCompleted
	TaskFailed
	TaskBlocked
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskReady:
		return "ready"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status needs no further processing.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskBlocked
}

// MarshalJSON serializes the status as its string form.
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	if s < TaskPending || s > TaskBlocked {
		return nil, fmt.Errorf("status %d: %w", int(s), ErrUnknownStatus)
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a status string. Unknown values are rejected, never
// coerced: the task file is an external contract.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "pending":
		*s = TaskPending
	case "ready":
		*s = TaskReady
	case "running":
		*s = TaskRunning
	case "completed":
		*s = TaskCompleted
	case "failed":
		*s = TaskFailed
	case "blocked":
		*s = TaskBlocked
	default:
		return fmt.Errorf("status %q: %w", raw, ErrUnknownStatus)
	}
	return nil
}

// allowedTransitions is the full set of legal status transitions.
// RUNNING→READY is the release path (budget denial, open breaker,
// cancellation, resume); FAILED→READY is the retry path.
// PENDING→FAILED covers dependency-cycle members, which fail before
// any dispatch.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	TaskPending: {TaskReady, TaskFailed, TaskBlocked},
	TaskReady:   {TaskRunning, TaskBlocked},
	TaskRunning: {TaskCompleted, TaskFailed, TaskReady, TaskBlocked},
	TaskFailed:  {TaskReady, TaskBlocked},
}

// CanTransition reports whether from→to is a legal status transition.
// A self-transition is always legal (and is a no-op at the store level).
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Priority orders tasks within the ready frontier. Lower value wins.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the priority as its string form.
func (p Priority) MarshalJSON() ([]byte, error) {
	if p < PriorityHigh || p > PriorityLow {
		return nil, fmt.Errorf("priority %d: %w", int(p), ErrUnknownStatus)
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON parses a priority string. Unknown values are rejected.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "high":
		*p = PriorityHigh
	case "medium":
		*p = PriorityMedium
	case "low":
		*p = PriorityLow
	default:
		return fmt.Errorf("priority %q: %w", raw, ErrUnknownStatus)
	}
	return nil
}

// CheckpointState represents the state of a checkpoint record.
type CheckpointState int

const (
	CheckpointCreated CheckpointState = iota
	CheckpointActive
	CheckpointCompleted
	CheckpointFailed
	CheckpointRestored
)

func (s CheckpointState) String() string {
	switch s {
	case CheckpointCreated:
		return "created"
	case CheckpointActive:
		return "active"
	case CheckpointCompleted:
		return "completed"
	case CheckpointFailed:
		return "failed"
	case CheckpointRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the checkpoint state as its string form.
func (s CheckpointState) MarshalJSON() ([]byte, error) {
	if s < CheckpointCreated || s > CheckpointRestored {
		return nil, fmt.Errorf("checkpoint state %d: %w", int(s), ErrUnknownStatus)
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a checkpoint state string. Unknown values are rejected.
func (s *CheckpointState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "created":
		*s = CheckpointCreated
	case "active":
		*s = CheckpointActive
	case "completed":
		*s = CheckpointCompleted
	case "failed":
		*s = CheckpointFailed
	case "restored":
		*s = CheckpointRestored
	default:
		return fmt.Errorf("checkpoint state %q: %w", raw, ErrUnknownStatus)
	}
	return nil
}

// checkpointTransitions is the permitted checkpoint state machine:
// CREATED→ACTIVE, ACTIVE→COMPLETED, ACTIVE→FAILED, FAILED→RESTORED,
// RESTORED→ACTIVE. All others are invalid.
var checkpointTransitions = map[CheckpointState][]CheckpointState{
	CheckpointCreated:  {CheckpointActive},
	CheckpointActive:   {CheckpointCompleted, CheckpointFailed},
	CheckpointFailed:   {CheckpointRestored},
	CheckpointRestored: {CheckpointActive},
}

// CanTransitionCheckpoint reports whether from→to is a legal checkpoint
// state transition.
func CanTransitionCheckpoint(from, to CheckpointState) bool {
	for _, t := range checkpointTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// BreakerState represents the state of a per-executor circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}
