// Package orchestrator owns plan lifecycles and drives execution cycles.
//
// An [Orchestrator] is an explicit registry of plans keyed by id. Each plan has
// its own run lock, so cycles and the lifecycle commands other than Pause are
// serialised on one plan while different plans proceed independently. Readers
// get deep-copied snapshots and never observe a plan mid-mutation.
//
// One call to [Orchestrator.Continue] is one cycle:
//  1. failures carried over from outside a cycle (exec-step, a reload, or a
//     rejected revision) are sent to the RePlanner
//  2. every ready step is dispatched concurrently, bounded by the worker pool,
//     and steps that failed in the dispatch are sent to the RePlanner
//  3. once nothing is pending the verification strategy is evaluated, and a
//     verdict that does not pass is sent to the RePlanner
//  4. the plan snapshot is persisted
//
// A cycle that re-plans or dispatches counts as one iteration, whether or not
// the revision was accepted. Starting a cycle that needs work when the
// iteration budget is spent fails the plan with
// [plan.ReasonMaxIterationsExceeded].
//
// Pause takes effect immediately: running steps finish, queued ones are not
// started. Stop additionally cancels the running steps.
//
// Key types:
//   - [Orchestrator] - plan registry and lifecycle commands
//   - [IterationReport] - what one Continue call did
//   - [StepRunner], [GoalVerifier], [RePlanner] - collaborators, satisfied by
//     executor.Executor, verify.Verifier, and replan.RePlanner
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"

	"workloop/internal/executor"
	"workloop/internal/plan"
	"workloop/internal/planner"
	"workloop/internal/replan"
	"workloop/internal/scheduler"
	"workloop/internal/store"
)

// StepRunner runs one step to a terminal outcome.
type StepRunner interface {
	Run(ctx context.Context, step plan.Step, policy executor.Policy) executor.Outcome
}

// GoalVerifier evaluates a verification strategy against a plan snapshot.
type GoalVerifier interface {
	Verify(ctx context.Context, strategy plan.Strategy, p *plan.Plan) plan.Verdict
}

// RePlanner revises a plan after a failure and returns the revised copy.
type RePlanner interface {
	Replan(ctx context.Context, p *plan.Plan, failure plan.FailureContext) (*plan.Plan, replan.Result, error)
}

// ProgressCallback is invoked when a step starts running and again when it
// finishes. It is called from dispatch goroutines and must be safe for
// concurrent use.
type ProgressCallback func(planID string, step plan.Step)

// entry is one registered plan.
type entry struct {
	// run serialises cycles and lifecycle commands.
	run sync.Mutex

	// mu guards the fields below.
	mu       sync.RWMutex
	plan     *plan.Plan
	cancel   context.CancelFunc
	stopping bool
}

func (e *entry) snapshot() *plan.Plan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plan.Clone()
}

// Orchestrator is the plan registry.
//
// Use [New] to create an instance. [SetProgressCallback] is optional.
type Orchestrator struct {
	planner   planner.Planner
	runner    StepRunner
	verifier  GoalVerifier
	replanner RePlanner
	store     store.Store
	progress  ProgressCallback

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	plans map[string]*entry
}

// New creates an Orchestrator. A nil store means an in-memory store.
func New(p planner.Planner, runner StepRunner, verifier GoalVerifier, rp RePlanner, s store.Store) *Orchestrator {
	if s == nil {
		s = store.NewMemory()
	}
	return &Orchestrator{
		planner:   p,
		runner:    runner,
		verifier:  verifier,
		replanner: rp,
		store:     s,
		now:       time.Now,
		newID:     uuid.NewString,
		plans:     make(map[string]*entry),
	}
}

// SetProgressCallback configures an optional per-step progress callback.
func (o *Orchestrator) SetProgressCallback(cb ProgressCallback) {
	o.progress = cb
}

// Start asks the Planner for an initial step list and registers a new Active plan.
//
// The plan is never created when the config is invalid, the Planner fails or
// returns no steps, or the steps do not form a valid acyclic graph. A store
// failure is returned wrapped in [plan.ErrStore] together with the registered
// plan, which stays usable in memory.
func (o *Orchestrator) Start(ctx context.Context, goal string, cfg plan.ExecutionConfig) (*plan.Plan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("%w: goal is empty", plan.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	steps, err := o.planner.Generate(ctx, goal, cfg)
	if err != nil {
		if errors.Is(err, plan.ErrPlanner) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", plan.ErrPlanner, err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: no steps produced for goal", plan.ErrPlanner)
	}
	steps = normalizeSteps(steps)
	if err := plan.ValidateSteps(steps); err != nil {
		return nil, err
	}

	now := o.now()
	p := &plan.Plan{
		ID:                o.newID(),
		Goal:              goal,
		ParentPlan:        cfg.ParentPlan,
		Status:            plan.StatusActive,
		Steps:             steps,
		MaxIterations:     cfg.MaxIterations,
		Strategy:          cfg.Strategy.Clone(),
		PerStepTimeout:    cfg.PerStepTimeout,
		PerStepRetryLimit: cfg.PerStepRetryLimit,
		WorkerPoolSize:    cfg.WorkerPoolSize,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	o.mu.Lock()
	o.plans[p.ID] = &entry{plan: p}
	o.mu.Unlock()

	logger.Info("plan started",
		"plan_id", p.ID,
		"steps", strconv.Itoa(len(steps)),
		"max_iterations", strconv.Itoa(p.MaxIterations),
		"strategy", p.Strategy.String())

	return p.Clone(), o.persist(ctx, p.Clone())
}

// normalizeSteps assigns missing ids and ordinals and resets run state.
func normalizeSteps(steps []plan.Step) []plan.Step {
	taken := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.ID != "" {
			taken[s.ID] = true
		}
	}
	out := make([]plan.Step, len(steps))
	n := 0
	for i, s := range steps {
		s = s.Clone()
		for s.ID == "" {
			n++
			if id := "s" + strconv.Itoa(n); !taken[id] {
				s.ID = id
				taken[id] = true
			}
		}
		if s.Ordinal == 0 {
			s.Ordinal = i + 1
		}
		if s.Action == "" {
			s.Action = s.Description
		}
		s.Status = plan.StepWaiting
		s.Attempts = 0
		s.Result = ""
		s.Error = nil
		s.SupersededBy = nil
		out[i] = s
	}
	return out
}

// entry returns the registered plan, loading it from the store on a miss.
func (o *Orchestrator) entry(ctx context.Context, id string) (*entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.plans[id]; ok {
		return e, nil
	}

	p, err := o.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, plan.ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, id)
		}
		return nil, fmt.Errorf("%w: load plan %s: %v", plan.ErrStore, id, err)
	}
	if err := p.CheckIntegrity(); err != nil {
		logger.LogErr(err, "persisted plan failed integrity check")
		return nil, err
	}
	recoverInterrupted(p)

	e := &entry{plan: p}
	o.plans[id] = e
	logger.Debug("plan loaded from store", "plan_id", id)
	return e, nil
}

// recoverInterrupted returns steps left Running by a previous process to Waiting.
func recoverInterrupted(p *plan.Plan) {
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status == plan.StepRunning {
			logger.Warn("recovering interrupted step", "plan_id", p.ID, "step_id", s.ID)
			s.Status = plan.StepWaiting
			s.StartedAt = time.Time{}
		}
	}
}

// persist saves a snapshot. Failures wrap [plan.ErrStore]; memory state is kept.
func (o *Orchestrator) persist(ctx context.Context, snap *plan.Plan) error {
	if err := o.store.Save(context.WithoutCancel(ctx), snap); err != nil {
		logger.LogErr(err, "failed to persist plan")
		return fmt.Errorf("%w: save plan %s: %v", plan.ErrStore, snap.ID, err)
	}
	return nil
}

// Status returns a snapshot of the plan.
func (o *Orchestrator) Status(ctx context.Context, id string) (*plan.Plan, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.snapshot(), nil
}

// List returns snapshots of every known plan, registered or persisted, ordered
// by creation time. A store listing failure is returned alongside the plans
// already in memory.
func (o *Orchestrator) List(ctx context.Context) ([]*plan.Plan, error) {
	ids := make(map[string]bool)
	o.mu.Lock()
	for id := range o.plans {
		ids[id] = true
	}
	o.mu.Unlock()

	stored, listErr := o.store.List(ctx)
	if listErr != nil {
		listErr = fmt.Errorf("%w: list plans: %v", plan.ErrStore, listErr)
	}
	for _, id := range stored {
		ids[id] = true
	}

	var plans []*plan.Plan
	for id := range ids {
		e, err := o.entry(ctx, id)
		if err != nil {
			logger.Warn("skipping unreadable plan", "plan_id", id, "error", err.Error())
			continue
		}
		plans = append(plans, e.snapshot())
	}
	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].CreatedAt.Before(plans[j].CreatedAt)
		}
		return plans[i].ID < plans[j].ID
	})
	return plans, listErr
}

// Pause moves an Active plan to Paused without waiting for an in-flight
// cycle. Steps already running finish; the cycle starts no new ones.
func (o *Orchestrator) Pause(ctx context.Context, id string) (*plan.Plan, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if err := e.plan.Transition(plan.StatusPaused, "", o.now()); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snap := e.plan.Clone()
	e.mu.Unlock()

	logger.Info("plan paused", "plan_id", id)
	return snap, o.persist(ctx, snap.Clone())
}

// Resume moves a Paused plan back to Active.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*plan.Plan, error) {
	return o.transition(ctx, id, plan.StatusActive, "")
}

// transition applies a status change once any in-flight cycle has ended.
func (o *Orchestrator) transition(ctx context.Context, id string, to plan.Status, reason string) (*plan.Plan, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	e.run.Lock()
	defer e.run.Unlock()

	e.mu.Lock()
	if err := e.plan.Transition(to, reason, o.now()); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	snap := e.plan.Clone()
	e.mu.Unlock()

	logger.Info("plan "+string(to), "plan_id", id)
	return snap, o.persist(ctx, snap.Clone())
}

// Stop cancels any in-flight cycle and moves the plan to Stopped. Waiting
// steps become Skipped; steps interrupted mid-run end Failed as cancelled.
func (o *Orchestrator) Stop(ctx context.Context, id string) (*plan.Plan, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.plan.IsTerminal() {
		err := plan.ValidateTransition(e.plan.Status, plan.StatusStopped)
		e.mu.Unlock()
		return nil, err
	}
	if e.cancel != nil {
		e.stopping = true
		e.cancel()
	}
	e.mu.Unlock()

	e.run.Lock()
	defer e.run.Unlock()

	e.mu.Lock()
	e.stopping = false
	now := o.now()
	if err := e.plan.Transition(plan.StatusStopped, plan.ReasonStopped, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	for i := range e.plan.Steps {
		s := &e.plan.Steps[i]
		switch s.Status {
		case plan.StepWaiting:
			s.Status = plan.StepSkipped
			s.FinishedAt = now
		case plan.StepRunning:
			s.Status = plan.StepFailed
			s.Error = &plan.StepError{Kind: plan.ErrorCancelled, Message: "plan stopped"}
			s.FinishedAt = now
		}
	}
	snap := e.plan.Clone()
	e.mu.Unlock()

	logger.Info("plan stopped", "plan_id", id)
	return snap, o.persist(ctx, snap.Clone())
}

// Delete removes a terminal plan from the registry and the store.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	e, err := o.entry(ctx, id)
	if err != nil {
		return err
	}
	e.run.Lock()
	defer e.run.Unlock()

	if snap := e.snapshot(); !snap.IsTerminal() {
		return fmt.Errorf("%w: plan %s is %s, only terminal plans can be deleted", plan.ErrInvalidTransition, id, snap.Status)
	}

	o.mu.Lock()
	delete(o.plans, id)
	o.mu.Unlock()

	if err := o.store.Delete(ctx, id); err != nil && !errors.Is(err, plan.ErrPlanNotFound) {
		return fmt.Errorf("%w: delete plan %s: %v", plan.ErrStore, id, err)
	}
	logger.Info("plan deleted", "plan_id", id)
	return nil
}

// Verify evaluates the plan's verification strategy without changing the plan.
func (o *Orchestrator) Verify(ctx context.Context, id string) (plan.Verdict, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return plan.Verdict{}, err
	}
	snap := e.snapshot()
	return o.verifier.Verify(ctx, snap.Strategy, snap), nil
}

// ExecuteStep runs a single ready step outside the cycle. The plan must be
// Active or Paused and every dependency Done. It neither counts as an
// iteration nor triggers re-planning.
func (o *Orchestrator) ExecuteStep(ctx context.Context, id, stepID string) (plan.Step, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return plan.Step{}, err
	}
	e.run.Lock()
	defer e.run.Unlock()

	snap := e.snapshot()
	if snap.Status != plan.StatusActive && snap.Status != plan.StatusPaused {
		return plan.Step{}, fmt.Errorf("%w: cannot execute a step of a %s plan", plan.ErrInvalidTransition, snap.Status)
	}
	step := snap.Step(stepID)
	if step == nil {
		return plan.Step{}, fmt.Errorf("%w: %s in plan %s", plan.ErrStepNotFound, stepID, id)
	}
	if step.Status != plan.StepWaiting {
		return plan.Step{}, fmt.Errorf("%w: step %s is %s", plan.ErrInvalidTransition, stepID, step.Status)
	}
	if !scheduler.IsReady(snap.Steps, stepID) {
		return plan.Step{}, fmt.Errorf("%w: step %s", plan.ErrDependencyNotMet, stepID)
	}

	out := o.runStep(ctx, e, *step, executor.PolicyFor(snap.ExecutionConfig()))
	logger.Info("step executed", "plan_id", id, "step_id", stepID, "status", string(out.Status))

	final := e.snapshot()
	return final.Step(stepID).Clone(), o.persist(ctx, final)
}

// runStep marks the step Running, runs it, and records the outcome.
func (o *Orchestrator) runStep(ctx context.Context, e *entry, step plan.Step, policy executor.Policy) executor.Outcome {
	e.mu.Lock()
	started := o.markRunning(e, step.ID)
	e.mu.Unlock()
	o.notify(e, started)
	return o.execute(ctx, e, step, policy)
}

// launch marks a dispatched step Running unless the cycle has been halted,
// in which case the step is left Waiting.
func (o *Orchestrator) launch(ctx context.Context, e *entry, id string) bool {
	e.mu.Lock()
	if ctx.Err() != nil || e.stopping || e.plan.Status != plan.StatusActive {
		e.mu.Unlock()
		return false
	}
	started := o.markRunning(e, id)
	e.mu.Unlock()
	o.notify(e, started)
	return true
}

// markRunning must be called with e.mu held.
func (o *Orchestrator) markRunning(e *entry, id string) plan.Step {
	live := e.plan.Step(id)
	live.Status = plan.StepRunning
	live.StartedAt = o.now()
	e.plan.UpdatedAt = live.StartedAt
	return live.Clone()
}

// execute runs a step already marked Running and records the outcome.
func (o *Orchestrator) execute(ctx context.Context, e *entry, step plan.Step, policy executor.Policy) executor.Outcome {
	out := o.runner.Run(ctx, step, policy)

	e.mu.Lock()
	live := e.plan.Step(step.ID)
	live.Attempts += out.Attempts
	live.Result = out.Output
	if !out.StartedAt.IsZero() {
		live.StartedAt = out.StartedAt
	}
	live.FinishedAt = out.FinishedAt
	if live.FinishedAt.IsZero() {
		live.FinishedAt = o.now()
	}
	if out.Status == plan.StepDone {
		live.Status = plan.StepDone
		live.Error = nil
	} else {
		live.Status = plan.StepFailed
		live.Error = out.Err
		if live.Error == nil {
			live.Error = &plan.StepError{Kind: plan.ErrorPermanent, Message: "step failed"}
		}
	}
	e.plan.UpdatedAt = o.now()
	finished := live.Clone()
	e.mu.Unlock()
	o.notify(e, finished)
	return out
}

func (o *Orchestrator) notify(e *entry, step plan.Step) {
	if o.progress == nil {
		return
	}
	e.mu.RLock()
	id := e.plan.ID
	e.mu.RUnlock()
	o.progress(id, step)
}
