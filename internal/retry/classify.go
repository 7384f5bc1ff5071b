// Package retry provides the retry policy, error classification and the
// per-executor circuit breaker wrapped around every external invocation.
package retry

import (
	"context"
	"errors"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// Classify maps an error to its taxonomy kind. Unrecognized errors are
// classified Transient by default so an unexpected failure enters the
// normal retry pipeline instead of aborting the engine.
func Classify(err error) contracts.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return contracts.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return contracts.KindTransient // timeout
	case errors.Is(err, contracts.ErrProtocol):
		return contracts.KindProtocolError
	case errors.Is(err, contracts.ErrValidation):
		return contracts.KindValidationFailure
	case errors.Is(err, contracts.ErrDependencyCycle):
		return contracts.KindDependencyCycle
	case errors.Is(err, contracts.ErrBudgetExhausted), errors.Is(err, contracts.ErrTaskBudget):
		return contracts.KindBudgetExhausted
	case errors.Is(err, contracts.ErrCorruptCheckpoint):
		return contracts.KindCorruptCheckpoint
	case errors.Is(err, contracts.ErrStaleCheckpoint):
		return contracts.KindStaleCheckpoint
	case errors.Is(err, contracts.ErrConflict):
		return contracts.KindConflict
	default:
		return contracts.KindTransient
	}
}
