package contracts

import "errors"

// Sentinel errors for the engine.
var (
	// Store errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskExists        = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent modification conflict")
	ErrUnknownStatus     = errors.New("unknown status value")
	ErrStoreCorrupt      = errors.New("task store file corrupt")

	// Execution errors
	ErrProtocol         = errors.New("malformed tool output")
	ErrValidation       = errors.New("claimed files missing or empty")
	ErrDependencyCycle  = errors.New("cycle detected in task dependencies")
	ErrCircuitOpen      = errors.New("executor circuit breaker open")
	ErrRetriesExhausted = errors.New("retry attempts exhausted")

	// Budget errors
	ErrBudgetExhausted = errors.New("token budget exhausted")
	ErrTaskBudget      = errors.New("per-task token limit exceeded")

	// Checkpoint errors
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint already exists")
	ErrCorruptCheckpoint  = errors.New("checkpoint checksum mismatch")
	ErrStaleCheckpoint    = errors.New("checkpoint older than stale threshold")

	// Queue errors
	ErrQueueClosed = errors.New("queue closed")

	// Input validation errors
	ErrInvalidInput = errors.New("invalid input: nil or malformed")
)

// Kind classifies an error for retry policy and reporting.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindProtocolError     Kind = "protocol_error"
	KindValidationFailure Kind = "validation_failure"
	KindDependencyCycle   Kind = "dependency_cycle"
	KindConflict          Kind = "conflict"
	KindBudgetExhausted   Kind = "budget_exhausted"
	KindCorruptCheckpoint Kind = "corrupt_checkpoint"
	KindStaleCheckpoint   Kind = "stale_checkpoint"
	KindConfiguration     Kind = "configuration"
	KindCancelled         Kind = "cancelled"
)

// Permanent reports whether the kind never consumes a retry.
// Transient, protocol and validation failures are retryable (protocol
// bounded to two attempts by the retry policy).
func (k Kind) Permanent() bool {
	switch k {
	case KindDependencyCycle, KindConfiguration, KindBudgetExhausted,
		KindCancelled, KindCorruptCheckpoint, KindStaleCheckpoint:
		return true
	}
	return false
}
