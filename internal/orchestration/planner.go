package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anthropics/claude-orchestrator/engine/contracts"
	"github.com/anthropics/claude-orchestrator/engine/internal/retry"
)

// PlannerConfig configures the scheduling loop.
type PlannerConfig struct {
	Policy         retry.Policy
	ReviewMaxDepth int           // review rounds and follow-up generations admitted
	WorkDir        string        // handed to the review invocation
	ShutdownGrace  time.Duration // bound on waiting for executors to exit
}

// reviewID is the pseudo task id review invocations are accounted under.
const reviewID = contracts.TaskID("review")

// Report summarizes a finished run.
type Report struct {
	Completed  int
	Failed     int
	Blocked    int
	Remaining  int // pending/ready tasks left behind (budget halt)
	TokensUsed contracts.TokenCount
}

// Planner drives the run: it promotes tasks whose dependencies are
// satisfied, dispatches them to the pool in deterministic order, and
// merges outcomes sequentially. It is the only goroutine that moves
// tasks into COMPLETED, FAILED or BLOCKED.
type Planner struct {
	cfg       PlannerConfig
	store     contracts.TaskStore
	governor  contracts.BudgetGovernor
	estimator contracts.TokenEstimator
	invoker   contracts.Invoker
	queue     *Queue
	pool      *Pool
	results   chan outcome
	sink      contracts.EventSink
	log       zerolog.Logger

	graph      *Graph
	depth      map[contracts.TaskID]int // review generation per task
	inflight   map[contracts.TaskID]bool
	delayed    map[contracts.TaskID]time.Time
	halted     bool
	haltErr    error
	reviews    int  // review rounds run so far
	reviewable bool // a task completed since the last review
}

// PlannerDeps are the collaborators the planner needs.
type PlannerDeps struct {
	Store     contracts.TaskStore
	Governor  contracts.BudgetGovernor
	Estimator contracts.TokenEstimator
	Invoker   contracts.Invoker
	Queue     *Queue
	Pool      *Pool
	Results   chan outcome
	Sink      contracts.EventSink
}

// NewPlanner creates a planner.
func NewPlanner(cfg PlannerConfig, deps PlannerDeps, log zerolog.Logger) *Planner {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Planner{
		cfg:       cfg,
		store:     deps.Store,
		governor:  deps.Governor,
		estimator: deps.Estimator,
		invoker:   deps.Invoker,
		queue:     deps.Queue,
		pool:      deps.Pool,
		results:   deps.Results,
		sink:      deps.Sink,
		log:       log.With().Str("component", "planner").Logger(),
		depth:     make(map[contracts.TaskID]int),
		inflight:  make(map[contracts.TaskID]bool),
		delayed:   make(map[contracts.TaskID]time.Time),
	}
}

// Run executes the task set to quiescence. It returns the report and, if
// the budget halted the run, ErrBudgetExhausted.
func (pl *Planner) Run(ctx context.Context) (*Report, error) {
	tasks, err := pl.store.List(contracts.Filter{})
	if err != nil {
		return nil, err
	}
	pl.graph, err = BuildGraph(tasks)
	if err != nil {
		return nil, err
	}

	// Cycle members fail before any dispatch; their dependents are
	// blocked and everything else proceeds.
	cycle := pl.graph.CycleMembers()
	for _, id := range cycle {
		pl.failOne(id, contracts.KindDependencyCycle, "task is part of a dependency cycle")
	}
	for _, id := range cycle {
		pl.blockDependents(id)
	}
	if err := pl.promoteAll(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pl.pool.Start(ctx)
	defer func() {
		pl.queue.Close()
		cancel()
		// Workers get the grace window to wind down; past it they are
		// abandoned and their children reaped by the invoker's kill path.
		done := make(chan struct{})
		go func() {
			pl.pool.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(pl.cfg.ShutdownGrace):
			pl.log.Error().Dur("grace", pl.cfg.ShutdownGrace).Msg("shutdown grace elapsed, abandoning executors")
		}
	}()

	for {
		if !pl.halted {
			pl.dispatch()
		}
		if len(pl.inflight) == 0 && pl.queue.Len() == 0 {
			if pl.halted {
				return pl.report(), pl.haltErr
			}
			if !pl.workRemains() {
				if pl.review(ctx) {
					continue
				}
				return pl.report(), nil
			}
			if len(pl.delayed) == 0 {
				pl.blockStuck()
				return pl.report(), nil
			}
		}

		var wake <-chan time.Time
		if d, ok := pl.earliestDelay(); ok {
			wake = time.After(d)
		}
		select {
		case <-ctx.Done():
			return pl.report(), ctx.Err()
		case out := <-pl.results:
			pl.merge(out)
		case <-wake:
		}
	}
}

// dispatch pushes dispatchable READY tasks into the queue in
// deterministic order until the queue is full.
func (pl *Planner) dispatch() {
	ready := contracts.TaskReady
	tasks, err := pl.store.List(contracts.Filter{Status: &ready})
	if err != nil {
		pl.log.Error().Err(err).Msg("listing ready tasks failed")
		return
	}

	now := time.Now()
	var ids []contracts.TaskID
	for _, t := range tasks {
		if pl.inflight[t.ID] {
			continue
		}
		if until, ok := pl.delayed[t.ID]; ok && now.Before(until) {
			continue
		}
		ids = append(ids, t.ID)
	}

	for _, id := range pl.graph.OrderReady(ids) {
		ok, err := pl.queue.TryPush(id)
		if err != nil || !ok {
			return
		}
		delete(pl.delayed, id)
		pl.inflight[id] = true
	}
}

// merge applies one outcome. Terminal transitions happen here only, so
// concurrent attempts cannot interleave their side effects.
func (pl *Planner) merge(o outcome) {
	delete(pl.inflight, o.id)
	switch {
	case o.requeue > 0:
		pl.delayed[o.id] = time.Now().Add(o.requeue)
	case o.halt:
		pl.halted = true
		pl.haltErr = fmt.Errorf("run halted: %w", o.err)
		pl.emit(contracts.EventBudgetExhausted, o.id, o.err.Error())
		pl.log.Error().Str("task", string(o.id)).Err(o.err).Msg("budget exhausted, winding down")
	case o.err == nil:
		pl.complete(o)
	default:
		pl.fail(o)
	}
}

func (pl *Planner) complete(o outcome) {
	res := &contracts.TaskResult{
		Text:          o.out.Text,
		CreatedFiles:  o.out.CreatedFiles,
		ModifiedFiles: o.out.ModifiedFiles,
		TokensUsed:    o.out.TokensUsed,
	}
	err := pl.store.Transition(o.id, contracts.TaskRunning, contracts.TaskCompleted, func(t *contracts.Task) {
		t.Attempts++
		t.Result = res
		t.LastError = nil
		t.RetryContext = ""
	})
	if err != nil {
		pl.log.Error().Str("task", string(o.id)).Err(err).Msg("completing task failed")
		return
	}
	pl.reviewable = true
	pl.emit(contracts.EventTaskCompleted, o.id, fmt.Sprintf("completed, %d tokens", o.out.TokensUsed))
	pl.admitNew(o.out.NewTasks, pl.depth[o.id]+1, o.id)
	pl.promoteDependents(o.id)
}

func (pl *Planner) fail(o outcome) {
	task, err := pl.store.Get(o.id)
	if err != nil {
		pl.log.Error().Str("task", string(o.id)).Err(err).Msg("failed task vanished")
		return
	}
	attempts := task.Attempts + 1
	rec := &contracts.ErrorRecord{Kind: o.kind, Message: o.err.Error(), At: time.Now().UTC()}

	if pl.cfg.Policy.ShouldRetry(o.kind, attempts) {
		delay := pl.cfg.Policy.Delay(attempts)
		err := pl.store.Transition(o.id, contracts.TaskRunning, contracts.TaskReady, func(t *contracts.Task) {
			t.Attempts++
			t.LastError = rec
			t.RetryContext = fmt.Sprintf("attempt %d failed (%s): %s", attempts, o.kind, compact(o.err.Error(), 2048))
		})
		if err != nil {
			pl.log.Error().Str("task", string(o.id)).Err(err).Msg("scheduling retry failed")
			return
		}
		pl.delayed[o.id] = time.Now().Add(delay)
		pl.log.Info().Str("task", string(o.id)).Int("attempt", attempts).Dur("delay", delay).Msg("retry scheduled")
		return
	}

	err = pl.store.Transition(o.id, contracts.TaskRunning, contracts.TaskFailed, func(t *contracts.Task) {
		t.Attempts++
		t.LastError = rec
	})
	if err != nil {
		pl.log.Error().Str("task", string(o.id)).Err(err).Msg("failing task failed")
		return
	}
	pl.emit(contracts.EventTaskFailed, o.id, fmt.Sprintf("failed permanently after %d attempts (%s)", attempts, o.kind))
	pl.blockDependents(o.id)
}

// admitNew inserts follow-up tasks, up to the generation cap. Unknown
// dependencies and duplicate ids are skipped, not fatal. Returns the
// number of tasks admitted.
func (pl *Planner) admitNew(specs []contracts.NewTaskSpec, gen int, parent contracts.TaskID) int {
	admitted := 0
	for _, spec := range specs {
		if gen > pl.cfg.ReviewMaxDepth {
			pl.log.Info().Str("task", string(spec.ID)).Int("generation", gen).Msg("follow-up beyond depth cap, skipped")
			continue
		}
		if _, err := pl.store.Get(spec.ID); err == nil {
			pl.log.Info().Str("task", string(spec.ID)).Msg("follow-up id already exists, skipped")
			continue
		}
		t := &contracts.Task{
			ID:           spec.ID,
			Title:        spec.Title,
			Description:  spec.Description,
			Status:       contracts.TaskPending,
			Priority:     spec.Priority,
			Dependencies: spec.Dependencies,
		}
		if err := pl.store.Put(t); err != nil {
			pl.log.Warn().Str("task", string(spec.ID)).Err(err).Msg("follow-up rejected")
			continue
		}
		stored, err := pl.store.Get(spec.ID)
		if err != nil {
			continue
		}
		if err := pl.graph.Add(stored); err != nil {
			pl.log.Warn().Str("task", string(spec.ID)).Err(err).Msg("follow-up not wired into graph")
			continue
		}
		pl.depth[spec.ID] = gen
		admitted++
		pl.maybePromote(stored.ID)
		pl.log.Info().Str("task", string(spec.ID)).Str("parent", string(parent)).Int("generation", gen).Msg("follow-up admitted")
	}
	return admitted
}

// review runs one review round: the tool is invoked once with a summary
// of the finished run and may emit follow-up tasks. Reports whether new
// work was admitted. Review trouble never fails the run.
func (pl *Planner) review(ctx context.Context) bool {
	if pl.invoker == nil || !pl.reviewable || pl.reviews >= pl.cfg.ReviewMaxDepth {
		return false
	}
	pl.reviews++
	pl.reviewable = false

	prompt, err := pl.reviewPrompt()
	if err != nil {
		pl.log.Warn().Err(err).Msg("review prompt failed")
		return false
	}
	if err := pl.governor.Allow(reviewID, pl.estimator.Estimate(prompt)); err != nil {
		pl.log.Warn().Err(err).Msg("review skipped, budget refused")
		return false
	}
	out, err := pl.invoker.Invoke(ctx, contracts.InvokeRequest{
		TaskID:  reviewID,
		Prompt:  prompt,
		WorkDir: pl.cfg.WorkDir,
	})
	if out != nil {
		pl.governor.Record(reviewID, out.TokensUsed)
	}
	if err != nil {
		pl.log.Warn().Int("round", pl.reviews).Err(err).Msg("review invocation failed, skipped")
		return false
	}
	admitted := pl.admitNew(out.NewTasks, pl.reviews, reviewID)
	pl.log.Info().Int("round", pl.reviews).Int("admitted", admitted).Msg("review round finished")
	return admitted > 0
}

// reviewPrompt summarizes the run so far: every terminal task with its
// status and, for failures, the last error.
func (pl *Planner) reviewPrompt() (string, error) {
	tasks, err := pl.store.List(contracts.Filter{})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("# Review\n\nAll planned tasks have finished. Review the run and emit follow-up tasks if work remains.\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", t.ID, t.Status, t.Title)
		if t.LastError != nil {
			fmt.Fprintf(&b, "  last error (%s): %s\n", t.LastError.Kind, compact(t.LastError.Message, 512))
		}
	}
	return b.String(), nil
}

// promoteAll moves every PENDING task with satisfied dependencies to
// READY, and blocks those whose dependencies already failed.
func (pl *Planner) promoteAll() error {
	pending := contracts.TaskPending
	tasks, err := pl.store.List(contracts.Filter{Status: &pending})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		pl.maybePromote(t.ID)
	}
	return nil
}

// promoteDependents re-examines the direct dependents of a completed task.
func (pl *Planner) promoteDependents(id contracts.TaskID) {
	for _, dep := range pl.graph.Dependents(id) {
		pl.maybePromote(dep)
	}
}

// maybePromote moves one PENDING task to READY if all dependencies are
// COMPLETED, or to BLOCKED if any is FAILED or BLOCKED.
func (pl *Planner) maybePromote(id contracts.TaskID) {
	task, err := pl.store.Get(id)
	if err != nil || task.Status != contracts.TaskPending {
		return
	}
	satisfied := true
	for _, depID := range pl.graph.Deps(id) {
		dep, err := pl.store.Get(depID)
		if err != nil {
			return
		}
		switch dep.Status {
		case contracts.TaskCompleted:
		case contracts.TaskFailed, contracts.TaskBlocked:
			pl.blockOne(id, contracts.KindCancelled, fmt.Sprintf("dependency %s cannot complete", depID))
			return
		default:
			satisfied = false
		}
	}
	if !satisfied {
		return
	}
	if err := pl.store.Transition(id, contracts.TaskPending, contracts.TaskReady, nil); err != nil {
		pl.log.Error().Str("task", string(id)).Err(err).Msg("promotion failed")
	}
}

// blockDependents walks the transitive dependents of a failed task and
// blocks every one that has not finished.
func (pl *Planner) blockDependents(id contracts.TaskID) {
	for _, depID := range pl.graph.Dependents(id) {
		task, err := pl.store.Get(depID)
		if err != nil || task.Status.Terminal() {
			continue
		}
		pl.blockOne(depID, contracts.KindCancelled, fmt.Sprintf("dependency %s failed", id))
		pl.blockDependents(depID)
	}
}

// failOne moves a task to FAILED from whatever non-terminal status it
// holds, without an attempt having run.
func (pl *Planner) failOne(id contracts.TaskID, kind contracts.Kind, reason string) {
	task, err := pl.store.Get(id)
	if err != nil || task.Status.Terminal() {
		return
	}
	err = pl.store.Transition(id, task.Status, contracts.TaskFailed, func(t *contracts.Task) {
		t.LastError = &contracts.ErrorRecord{Kind: kind, Message: reason, At: time.Now().UTC()}
	})
	if err != nil {
		pl.log.Error().Str("task", string(id)).Err(err).Msg("failing task failed")
		return
	}
	pl.emit(contracts.EventTaskFailed, id, reason)
}

// blockOne moves a task to BLOCKED from whatever non-terminal status it
// holds.
func (pl *Planner) blockOne(id contracts.TaskID, kind contracts.Kind, reason string) {
	task, err := pl.store.Get(id)
	if err != nil || task.Status.Terminal() {
		return
	}
	err = pl.store.Transition(id, task.Status, contracts.TaskBlocked, func(t *contracts.Task) {
		t.LastError = &contracts.ErrorRecord{Kind: kind, Message: reason, At: time.Now().UTC()}
	})
	if err != nil {
		pl.log.Error().Str("task", string(id)).Err(err).Msg("blocking task failed")
		return
	}
	pl.emit(contracts.EventTaskBlocked, id, reason)
}

// blockStuck handles the defensive corner where dispatchable work exists
// but nothing can move: remaining non-terminal tasks are blocked so the
// run terminates instead of spinning.
func (pl *Planner) blockStuck() {
	tasks, err := pl.store.List(contracts.Filter{})
	if err != nil {
		return
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			pl.blockOne(t.ID, contracts.KindCancelled, "no executable path to this task")
		}
	}
}

// workRemains reports whether any task could still run.
func (pl *Planner) workRemains() bool {
	tasks, err := pl.store.List(contracts.Filter{})
	if err != nil {
		return false
	}
	for _, t := range tasks {
		if t.Status == contracts.TaskReady || t.Status == contracts.TaskPending {
			return true
		}
	}
	return false
}

func (pl *Planner) earliestDelay() (time.Duration, bool) {
	if len(pl.delayed) == 0 {
		return 0, false
	}
	var earliest time.Time
	for _, until := range pl.delayed {
		if earliest.IsZero() || until.Before(earliest) {
			earliest = until
		}
	}
	d := time.Until(earliest)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d, true
}

func (pl *Planner) report() *Report {
	rep := &Report{TokensUsed: pl.governor.Snapshot().TokensUsed}
	tasks, err := pl.store.List(contracts.Filter{})
	if err != nil {
		return rep
	}
	for _, t := range tasks {
		switch t.Status {
		case contracts.TaskCompleted:
			rep.Completed++
		case contracts.TaskFailed:
			rep.Failed++
		case contracts.TaskBlocked:
			rep.Blocked++
		default:
			rep.Remaining++
		}
	}
	return rep
}

func (pl *Planner) emit(typ contracts.EventType, id contracts.TaskID, msg string) {
	if pl.sink == nil {
		return
	}
	pl.sink.Emit(contracts.Event{
		ID:      uuid.NewString(),
		Type:    typ,
		TaskID:  id,
		Message: msg,
		At:      time.Now().UTC(),
	})
}
