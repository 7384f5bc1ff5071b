package cost

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
)

// Mode selects how budget violations are enforced.
type Mode string

const (
	// ModeStrict refuses dispatches that would cross the limit.
	ModeStrict Mode = "strict"
	// ModeSoft allows them but emits a warning event.
	ModeSoft Mode = "soft"
)

// GovernorConfig configures the budget governor. Zero limits disable the
// corresponding check.
type GovernorConfig struct {
	TotalLimit       contracts.TokenCount
	PerTaskLimit     contracts.TokenCount
	WarningThreshold int // percent of TotalLimit, 0 disables
	Mode             Mode
}

// Governor implements contracts.BudgetGovernor: the admission controller
// that halts execution before the external quota is exhausted.
// CRITICAL: errors here mean client money loss.
type Governor struct {
	mu       sync.Mutex
	cfg      GovernorConfig
	tracker  *Tracker
	sink     contracts.EventSink
	log      zerolog.Logger
	warnedAt time.Time
}

var _ contracts.BudgetGovernor = (*Governor)(nil)

// NewGovernor creates a Governor over the given tracker (a fresh one if
// nil). The sink may be nil.
func NewGovernor(cfg GovernorConfig, tracker *Tracker, sink contracts.EventSink, log zerolog.Logger) *Governor {
	if tracker == nil {
		tracker = NewTracker()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeStrict
	}
	return &Governor{
		cfg:     cfg,
		tracker: tracker,
		sink:    sink,
		log:     log.With().Str("component", "budget").Logger(),
	}
}

// Allow checks whether dispatching a task with the given estimated cost
// fits the budget. The projected total includes everything recorded so
// far; in strict mode a violation refuses the dispatch.
func (g *Governor) Allow(taskID contracts.TaskID, estimate contracts.TokenCount) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := g.tracker.Total()
	if g.cfg.TotalLimit > 0 && total+estimate > g.cfg.TotalLimit {
		msg := fmt.Sprintf("projected %d exceeds budget %d (used %d, estimate %d)",
			total+estimate, g.cfg.TotalLimit, total, estimate)
		if g.cfg.Mode == ModeStrict {
			return fmt.Errorf("task %s: %s: %w", taskID, msg, contracts.ErrBudgetExhausted)
		}
		g.emitLocked(contracts.EventBudgetWarning, taskID, "soft budget overrun: "+msg)
	}

	if g.cfg.PerTaskLimit > 0 {
		used := g.tracker.Task(taskID)
		if used+estimate > g.cfg.PerTaskLimit {
			msg := fmt.Sprintf("projected %d exceeds per-task limit %d", used+estimate, g.cfg.PerTaskLimit)
			if g.cfg.Mode == ModeStrict {
				return fmt.Errorf("task %s: %s: %w", taskID, msg, contracts.ErrTaskBudget)
			}
			g.emitLocked(contracts.EventBudgetWarning, taskID, "soft per-task overrun: "+msg)
		}
	}
	return nil
}

// Record adds actual usage reported by the tool. Crossing the warning
// threshold emits one BudgetWarning per run, idempotently.
func (g *Governor) Record(taskID contracts.TaskID, tokens contracts.TokenCount) {
	g.tracker.Add(taskID, tokens)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.WarningThreshold <= 0 || g.cfg.TotalLimit <= 0 || !g.warnedAt.IsZero() {
		return
	}
	total := g.tracker.Total()
	if int64(total)*100 >= int64(g.cfg.TotalLimit)*int64(g.cfg.WarningThreshold) {
		g.warnedAt = time.Now().UTC()
		g.emitLocked(contracts.EventBudgetWarning, taskID,
			fmt.Sprintf("usage %d crossed %d%% of budget %d", total, g.cfg.WarningThreshold, g.cfg.TotalLimit))
	}
}

// Snapshot returns a copy of cumulative usage, with the warning marker
// if one was emitted this run.
func (g *Governor) Snapshot() contracts.BudgetSnapshot {
	snap := g.tracker.Snapshot()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.warnedAt.IsZero() {
		snap.Events = map[string]time.Time{string(contracts.EventBudgetWarning): g.warnedAt}
	}
	return snap
}

// emitLocked delivers an event to the sink, if any. Caller must hold g.mu.
func (g *Governor) emitLocked(typ contracts.EventType, taskID contracts.TaskID, msg string) {
	g.log.Warn().Str("task", string(taskID)).Str("event", string(typ)).Msg(msg)
	if g.sink == nil {
		return
	}
	g.sink.Emit(contracts.Event{
		ID:      uuid.NewString(),
		Type:    typ,
		TaskID:  taskID,
		Message: msg,
		At:      time.Now().UTC(),
	})
}
