package orchestration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
	"github.com/anthropics/claude-orchestrator/engine/internal/retry"
)

// outcome is one executed (or refused) task reported back to the planner.
// The pool never moves a task into a terminal state; it reserves RUNNING,
// performs the I/O, and lets the planner merge sequentially.
type outcome struct {
	id   contracts.TaskID
	out  *contracts.ToolOutput
	err  error
	kind contracts.Kind

	// requeue asks the planner to re-dispatch after the delay; the task
	// was released back to READY without running.
	requeue time.Duration

	// halt reports the total budget refused the dispatch. The run winds
	// down; the task stays READY for a later resume.
	halt bool
}

// PoolConfig configures the executor pool.
type PoolConfig struct {
	Workers      int
	WorkDir      string
	Breaker      retry.BreakerConfig
	RequeueDelay time.Duration // redispatch delay when a breaker refuses
}

// Pool runs a fixed set of executor goroutines draining the queue. Each
// worker owns its circuit breaker: a misbehaving executor slot is
// isolated while the rest keep working.
type Pool struct {
	cfg         PoolConfig
	queue       *Queue
	results     chan<- outcome
	store       contracts.TaskStore
	checkpoints contracts.CheckpointStore
	governor    contracts.BudgetGovernor
	estimator   contracts.TokenEstimator
	invoker     contracts.Invoker
	prompts     *PromptBuilder
	log         zerolog.Logger
	wg          sync.WaitGroup
}

// PoolDeps are the collaborators the pool needs.
type PoolDeps struct {
	Queue       *Queue
	Results     chan<- outcome
	Store       contracts.TaskStore
	Checkpoints contracts.CheckpointStore
	Governor    contracts.BudgetGovernor
	Estimator   contracts.TokenEstimator
	Invoker     contracts.Invoker
	Prompts     *PromptBuilder
}

// NewPool creates a pool; Start launches the workers.
func NewPool(cfg PoolConfig, deps PoolDeps, log zerolog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RequeueDelay <= 0 {
		cfg.RequeueDelay = time.Second
	}
	return &Pool{
		cfg:         cfg,
		queue:       deps.Queue,
		results:     deps.Results,
		store:       deps.Store,
		checkpoints: deps.Checkpoints,
		governor:    deps.Governor,
		estimator:   deps.Estimator,
		invoker:     deps.Invoker,
		prompts:     deps.Prompts,
		log:         log.With().Str("component", "pool").Logger(),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		executor := contracts.ExecutorID(i)
		br := retry.NewBreaker(executor, p.cfg.Breaker, p.log)
		p.wg.Add(1)
		go p.worker(ctx, executor, br)
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, executor contracts.ExecutorID, br *retry.Breaker) {
	defer p.wg.Done()
	log := p.log.With().Int("executor", int(executor)).Logger()
	for {
		id, err := p.queue.Pop(ctx)
		if err != nil {
			return
		}
		out := p.executeOne(ctx, br, id, log)
		select {
		case p.results <- out:
		case <-ctx.Done():
			return
		}
	}
}

// executeOne runs the full per-task procedure: reserve, breaker check,
// prompt, budget admission, checkpoint, invoke, validate. A panic never
// crosses the task boundary; it enters the failure pipeline as a
// transient error.
func (p *Pool) executeOne(ctx context.Context, br *retry.Breaker, id contracts.TaskID, log zerolog.Logger) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", string(id)).Interface("panic", r).Msg("executor panic recovered")
			res = outcome{id: id, err: fmt.Errorf("executor panic: %v", r), kind: contracts.KindTransient}
		}
	}()
	// Reserve. Losing the race means the task moved under us; hand it
	// back to the planner to re-examine.
	err := p.store.Transition(id, contracts.TaskReady, contracts.TaskRunning, nil)
	if errors.Is(err, contracts.ErrConflict) || errors.Is(err, contracts.ErrInvalidTransition) {
		return outcome{id: id, requeue: p.cfg.RequeueDelay}
	}
	if err != nil {
		return outcome{id: id, err: err, kind: retry.Classify(err)}
	}

	if err := br.Allow(); err != nil {
		p.release(id, log)
		return outcome{id: id, requeue: p.cfg.RequeueDelay}
	}

	task, err := p.store.Get(id)
	if err != nil {
		return outcome{id: id, err: err, kind: retry.Classify(err)}
	}
	prompt, err := p.prompts.Build(task)
	if err != nil {
		return outcome{id: id, err: err, kind: retry.Classify(err)}
	}

	estimate := p.estimator.Estimate(prompt)
	if err := p.governor.Allow(id, estimate); err != nil {
		if errors.Is(err, contracts.ErrTaskBudget) {
			// The task alone is over its limit; it can never pass.
			return outcome{id: id, err: err, kind: contracts.KindBudgetExhausted}
		}
		p.release(id, log)
		return outcome{id: id, err: err, halt: true}
	}

	cp := p.checkpointStart(task, log)

	out, err := p.invoker.Invoke(ctx, contracts.InvokeRequest{
		TaskID:  id,
		Prompt:  prompt,
		WorkDir: p.cfg.WorkDir,
	})
	if out != nil {
		// Tokens spent on a failed attempt still count.
		p.governor.Record(id, out.TokensUsed)
	}
	if ctx.Err() != nil {
		// Shutdown or interrupt. The task goes back to READY and the
		// checkpoint is marked RESTORED for the next run.
		p.release(id, log)
		p.checkpointRelease(cp, log)
		return outcome{id: id, requeue: p.cfg.RequeueDelay}
	}
	if err == nil {
		err = p.validateFiles(out)
	}

	if err != nil {
		kind := retry.Classify(err)
		br.RecordFailure(kind)
		p.checkpointFail(cp, kind, err, log)
		log.Warn().Str("task", string(id)).Str("kind", string(kind)).Err(err).Msg("attempt failed")
		return outcome{id: id, out: out, err: err, kind: kind}
	}

	br.RecordSuccess()
	p.checkpointComplete(cp, out, log)
	return outcome{id: id, out: out}
}

// release hands a reserved task back without consuming an attempt.
func (p *Pool) release(id contracts.TaskID, log zerolog.Logger) {
	if err := p.store.Transition(id, contracts.TaskRunning, contracts.TaskReady, nil); err != nil {
		log.Error().Str("task", string(id)).Err(err).Msg("releasing reservation failed")
	}
}

// validateFiles checks that every file the tool claims to have created
// or modified exists and is non-empty. A claim that does not hold is a
// validation failure, not a success with caveats.
func (p *Pool) validateFiles(out *contracts.ToolOutput) error {
	claims := make([]string, 0, len(out.CreatedFiles)+len(out.ModifiedFiles))
	claims = append(claims, out.CreatedFiles...)
	claims = append(claims, out.ModifiedFiles...)
	for _, name := range claims {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.cfg.WorkDir, name)
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("claimed file %s missing: %w", name, contracts.ErrValidation)
		}
		if info.Size() == 0 {
			return fmt.Errorf("claimed file %s is empty: %w", name, contracts.ErrValidation)
		}
	}
	return nil
}

// checkpointStart creates and activates the attempt's checkpoint.
// Checkpoint trouble is logged, never fatal: losing resumability must
// not fail a live attempt.
func (p *Pool) checkpointStart(task *contracts.Task, log zerolog.Logger) *contracts.Checkpoint {
	var parent contracts.CheckpointID
	if prev, err := p.checkpoints.Latest(task.ID); err == nil {
		parent = prev.ID
	}
	data := map[string]string{"attempt": strconv.Itoa(task.Attempts + 1)}
	cp, err := p.checkpoints.Create(task.ID, task.Attempts+1, task.Title, data, parent)
	if err != nil {
		log.Error().Str("task", string(task.ID)).Err(err).Msg("checkpoint create failed")
		return nil
	}
	if err := p.checkpoints.Activate(cp.ID); err != nil {
		log.Error().Str("task", string(task.ID)).Err(err).Msg("checkpoint activate failed")
		return nil
	}
	return cp
}

func (p *Pool) checkpointComplete(cp *contracts.Checkpoint, out *contracts.ToolOutput, log zerolog.Logger) {
	if cp == nil {
		return
	}
	final := map[string]string{"tokens_used": strconv.FormatInt(int64(out.TokensUsed), 10)}
	if err := p.checkpoints.Complete(cp.ID, final); err != nil {
		log.Error().Str("checkpoint", string(cp.ID)).Err(err).Msg("checkpoint complete failed")
	}
}

// checkpointRelease marks an interrupted attempt's checkpoint RESTORED
// so the next run resumes from it.
func (p *Pool) checkpointRelease(cp *contracts.Checkpoint, log zerolog.Logger) {
	if cp == nil {
		return
	}
	rec := &contracts.ErrorRecord{Kind: contracts.KindCancelled, Message: "run cancelled mid-task", At: time.Now().UTC()}
	if err := p.checkpoints.Fail(cp.ID, rec); err != nil {
		log.Error().Str("checkpoint", string(cp.ID)).Err(err).Msg("checkpoint release failed")
		return
	}
	if err := p.checkpoints.Restore(cp.ID); err != nil {
		log.Error().Str("checkpoint", string(cp.ID)).Err(err).Msg("checkpoint restore failed")
	}
}

func (p *Pool) checkpointFail(cp *contracts.Checkpoint, kind contracts.Kind, cause error, log zerolog.Logger) {
	if cp == nil {
		return
	}
	rec := &contracts.ErrorRecord{Kind: kind, Message: cause.Error(), At: time.Now().UTC()}
	if err := p.checkpoints.Fail(cp.ID, rec); err != nil {
		log.Error().Str("checkpoint", string(cp.ID)).Err(err).Msg("checkpoint fail failed")
	}
}
