package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// RestoredMarker prefixes the retry context of a resumed task so the next
// prompt carries the interruption context.
const RestoredMarker = "RESTORED"

// ResumeReport summarizes what startup recovery did.
type ResumeReport struct {
	Resumed []contracts.TaskID // RUNNING -> READY, fresh checkpoint
	Staled  []contracts.TaskID // RUNNING -> FAILED, stale or missing checkpoint
}

// Resume repairs tasks left in RUNNING by a previous process. A task with
// a non-completed checkpoint younger than staleThreshold goes back to
// READY with a restored marker; anything else means the previous run
// crashed mid-task and the task fails with a stale-checkpoint record.
// No task is ever left in RUNNING.
func Resume(tasks contracts.TaskStore, cps contracts.CheckpointStore, staleThreshold time.Duration, log zerolog.Logger) (*ResumeReport, error) {
	log = log.With().Str("component", "resume").Logger()
	running := contracts.TaskRunning
	inFlight, err := tasks.List(contracts.Filter{Status: &running})
	if err != nil {
		return nil, err
	}

	report := &ResumeReport{}
	now := time.Now()

	for _, task := range inFlight {
		cp, err := latestNonCompleted(cps, task.ID)
		if err != nil && !errors.Is(err, contracts.ErrCheckpointNotFound) {
			return nil, err
		}

		if cp != nil && now.Sub(cp.UpdatedAt) < staleThreshold {
			marker := fmt.Sprintf("%s from checkpoint %s (step %d: %s)", RestoredMarker, cp.ID, cp.Step, cp.Description)
			err := tasks.Transition(task.ID, contracts.TaskRunning, contracts.TaskReady, func(t *contracts.Task) {
				t.RetryContext = marker
			})
			if err != nil {
				return nil, err
			}
			if err := restoreChain(cps, cp); err != nil {
				return nil, err
			}
			report.Resumed = append(report.Resumed, task.ID)
			log.Info().Str("task", string(task.ID)).Str("checkpoint", string(cp.ID)).Msg("task resumed")
			continue
		}

		msg := "no checkpoint found for interrupted task"
		if cp != nil {
			msg = fmt.Sprintf("checkpoint %s is older than %s", cp.ID, staleThreshold)
		}
		err = tasks.Transition(task.ID, contracts.TaskRunning, contracts.TaskFailed, func(t *contracts.Task) {
			t.LastError = &contracts.ErrorRecord{
				Kind:    contracts.KindStaleCheckpoint,
				Message: msg,
				At:      now.UTC(),
			}
		})
		if err != nil {
			return nil, err
		}
		if cp != nil && cp.State == contracts.CheckpointActive {
			rec := &contracts.ErrorRecord{Kind: contracts.KindStaleCheckpoint, Message: msg, At: now.UTC()}
			if err := cps.Fail(cp.ID, rec); err != nil {
				return nil, err
			}
		}
		report.Staled = append(report.Staled, task.ID)
		log.Warn().Str("task", string(task.ID)).Msg(msg)
	}
	return report, nil
}

// latestNonCompleted returns the task's most recent checkpoint that is not
// COMPLETED, or ErrCheckpointNotFound.
func latestNonCompleted(cps contracts.CheckpointStore, taskID contracts.TaskID) (*contracts.Checkpoint, error) {
	all, err := cps.List(contracts.CheckpointFilter{TaskID: taskID})
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].State != contracts.CheckpointCompleted {
			return all[i], nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, contracts.ErrCheckpointNotFound)
}

// restoreChain walks an interrupted checkpoint into RESTORED through legal
// transitions only: ACTIVE→FAILED→RESTORED, FAILED→RESTORED. A CREATED
// checkpoint never started and is left for the next attempt to activate.
func restoreChain(cps contracts.CheckpointStore, cp *contracts.Checkpoint) error {
	switch cp.State {
	case contracts.CheckpointActive:
		rec := &contracts.ErrorRecord{
			Kind:    contracts.KindTransient,
			Message: "engine restarted mid-step",
			At:      time.Now().UTC(),
		}
		if err := cps.Fail(cp.ID, rec); err != nil {
			return err
		}
		return cps.Restore(cp.ID)
	case contracts.CheckpointFailed:
		return cps.Restore(cp.ID)
	default:
		return nil
	}
}
