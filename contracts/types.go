// Package contracts defines the core types and interfaces for the engine.
package contracts

// TaskID uniquely identifies a task. Stable across engine restarts.
type TaskID string

// CheckpointID uniquely identifies a checkpoint (cp_{task}_{step}_{unix}).
type CheckpointID string

// ExecutorID identifies one slot in the executor pool (0..N-1).
type ExecutorID int

// TokenCount is a number of LLM tokens.
type TokenCount int64
