package orchestration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
	"github.com/anthropics/claude-orchestrator/engine/internal/checkpoint"
	"github.com/anthropics/claude-orchestrator/engine/internal/retry"
)

// Options assembles an engine. Zero values fall back to the documented
// defaults.
type Options struct {
	Workers        int
	QueueDepth     int // default 2×Workers
	WorkDir        string
	Policy         retry.Policy
	Breaker        retry.BreakerConfig
	RequeueDelay   time.Duration
	ReviewMaxDepth int
	StaleAfter     time.Duration // checkpoint freshness window for resume
	ShutdownGrace  time.Duration // bound on winding down the pool
}

// Deps are the ports the engine runs against.
type Deps struct {
	Store       contracts.TaskStore
	Checkpoints contracts.CheckpointStore
	Governor    contracts.BudgetGovernor
	Estimator   contracts.TokenEstimator
	Invoker     contracts.Invoker
	Sink        contracts.EventSink
}

// Engine is the assembled orchestrator: resume, plan, execute, report.
type Engine struct {
	opts Options
	deps Deps
	log  zerolog.Logger
}

// NewEngine wires an engine from its ports.
func NewEngine(opts Options, deps Deps, log zerolog.Logger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 2 * opts.Workers
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 30 * time.Second
	}
	return &Engine{opts: opts, deps: deps, log: log}
}

// Run repairs interrupted state, executes the task set to quiescence and
// returns the final report. The error is ErrBudgetExhausted when the
// budget halted the run, or the context error on cancellation.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	resumed, err := checkpoint.Resume(e.deps.Store, e.deps.Checkpoints, e.opts.StaleAfter, e.log)
	if err != nil {
		return nil, err
	}
	if len(resumed.Resumed)+len(resumed.Staled) > 0 {
		e.log.Info().
			Int("resumed", len(resumed.Resumed)).
			Int("staled", len(resumed.Staled)).
			Msg("recovered interrupted tasks")
	}

	queue := NewQueue(e.opts.QueueDepth)
	results := make(chan outcome, e.opts.Workers)
	pool := NewPool(
		PoolConfig{
			Workers:      e.opts.Workers,
			WorkDir:      e.opts.WorkDir,
			Breaker:      e.opts.Breaker,
			RequeueDelay: e.opts.RequeueDelay,
		},
		PoolDeps{
			Queue:       queue,
			Results:     results,
			Store:       e.deps.Store,
			Checkpoints: e.deps.Checkpoints,
			Governor:    e.deps.Governor,
			Estimator:   e.deps.Estimator,
			Invoker:     e.deps.Invoker,
			Prompts:     NewPromptBuilder(e.deps.Store),
		},
		e.log,
	)
	planner := NewPlanner(
		PlannerConfig{
			Policy:         e.opts.Policy,
			ReviewMaxDepth: e.opts.ReviewMaxDepth,
			WorkDir:        e.opts.WorkDir,
			ShutdownGrace:  e.opts.ShutdownGrace,
		},
		PlannerDeps{
			Store:     e.deps.Store,
			Governor:  e.deps.Governor,
			Estimator: e.deps.Estimator,
			Invoker:   e.deps.Invoker,
			Queue:     queue,
			Pool:      pool,
			Results:   results,
			Sink:      e.deps.Sink,
		},
		e.log,
	)

	report, runErr := planner.Run(ctx)
	if report != nil {
		e.log.Info().
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("blocked", report.Blocked).
			Int("remaining", report.Remaining).
			Int64("tokens_used", int64(report.TokensUsed)).
			Msg("run finished")
		e.logSummary()
	}
	if e.deps.Sink != nil {
		e.deps.Sink.Emit(contracts.Event{
			ID:      uuid.NewString(),
			Type:    contracts.EventShutdown,
			Message: "engine shut down",
			At:      time.Now().UTC(),
		})
	}
	return report, runErr
}

// logSummary writes one line per task with its final status and, for
// failures, the last error kind and message. Full error payloads stay
// in the task record.
func (e *Engine) logSummary() {
	tasks, err := e.deps.Store.List(contracts.Filter{})
	if err != nil {
		return
	}
	for _, t := range tasks {
		ev := e.log.Info().
			Str("task", string(t.ID)).
			Stringer("status", t.Status).
			Int("attempts", t.Attempts)
		if t.LastError != nil {
			ev = ev.Str("error_kind", string(t.LastError.Kind)).Str("error", t.LastError.Message)
		}
		ev.Msg("task summary")
	}
}
