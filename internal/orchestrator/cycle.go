package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"
	"golang.org/x/sync/errgroup"

	"workloop/internal/executor"
	"workloop/internal/plan"
	"workloop/internal/scheduler"
)

// IterationReport describes what one Continue call did.
type IterationReport struct {
	PlanID string

	// Iteration is the plan's CurrentIteration after the cycle.
	Iteration int

	// NoOp is set when the plan was not Active and nothing happened.
	NoOp bool

	// Replanned is set when the RePlanner was consulted; Change is the entry it logged.
	Replanned bool
	Change    *plan.PlanChange

	Dispatched []string
	Done       []string
	Failed     []string

	// Verdict is set when verification ran during the cycle.
	Verdict *plan.Verdict

	Status plan.Status
	Reason string

	Duration time.Duration

	// Plan is the snapshot taken at the end of the cycle.
	Plan *plan.Plan
}

// Continue runs one execution cycle.
//
// Continuing a plan that is not Active (terminal or Paused) is a no-op that
// returns the current snapshot. When the cycle fails the plan for exhausting
// its iteration budget or finding no remediation, the report is returned
// together with an error wrapping [plan.ErrMaxIterationsExceeded] or
// [plan.ErrNoRemediation].
func (o *Orchestrator) Continue(ctx context.Context, id string) (IterationReport, error) {
	e, err := o.entry(ctx, id)
	if err != nil {
		return IterationReport{}, err
	}
	e.run.Lock()
	defer e.run.Unlock()

	start := o.now()
	snap := e.snapshot()
	if snap.Status != plan.StatusActive {
		return o.report(e, IterationReport{PlanID: id, NoOp: true}, start), nil
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	rep := IterationReport{PlanID: id}
	counted := false

	// Claims the cycle's iteration, failing the plan when the budget is spent.
	claim := func() error {
		if counted {
			return nil
		}
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.plan.CurrentIteration+1 > e.plan.MaxIterations {
			_ = e.plan.Transition(plan.StatusFailed, plan.ReasonMaxIterationsExceeded, o.now())
			logger.Warn("plan exceeded its iteration budget", "plan_id", id, "max_iterations", strconv.Itoa(e.plan.MaxIterations))
			return fmt.Errorf("%w: plan %s used all %d iterations", plan.ErrMaxIterationsExceeded, id, e.plan.MaxIterations)
		}
		e.plan.CurrentIteration++
		e.plan.UpdatedAt = o.now()
		counted = true
		return nil
	}

	// Re-plans under the cycle's iteration. A rejected revision still spends it.
	remediate := func(failure plan.FailureContext) (bool, error) {
		if err := claim(); err != nil {
			return true, err
		}
		failure.Iteration = e.snapshot().CurrentIteration
		return o.replan(cycleCtx, e, failure, &rep)
	}

	// Failures left over from exec-step, a reload, or a rejected revision.
	if failure := pendingFailure(snap); failure != nil {
		if done, err := remediate(*failure); err != nil || done {
			return o.finish(ctx, e, rep, start, err)
		}
	}

	ready := scheduler.Ready(e.snapshot().Steps)
	if len(ready) > 0 && !o.halted(cycleCtx, e) {
		if err := claim(); err != nil {
			return o.finish(ctx, e, rep, start, err)
		}
		o.dispatch(cycleCtx, e, ready, &rep)

		if err := ctx.Err(); err != nil && !o.stopping(e) {
			o.rewindCancelled(e, rep.Dispatched)
			return o.finish(ctx, e, rep, start, err)
		}
		if o.halted(cycleCtx, e) {
			return o.finish(ctx, e, rep, start, nil)
		}
		if failure := stepFailure(e.snapshot()); failure != nil {
			if done, err := remediate(*failure); err != nil || done {
				return o.finish(ctx, e, rep, start, err)
			}
		}
	}

	cur := e.snapshot()
	if readyToVerify(cur) && (cur.LastVerdict == nil || counted) {
		v := o.verifier.Verify(cycleCtx, cur.Strategy, cur)
		rep.Verdict = &v
		e.mu.Lock()
		e.plan.LastVerdict = &v
		e.plan.UpdatedAt = o.now()
		if v.Passed() {
			_ = e.plan.Transition(plan.StatusCompleted, plan.ReasonVerified, o.now())
		}
		e.mu.Unlock()
		logger.Info("plan verified",
			"plan_id", id,
			"outcome", string(v.Outcome),
			"score", strconv.FormatFloat(v.Score, 'f', 2, 64),
			"reason", v.Reason)

		if !v.Passed() && !rep.Replanned && !o.halted(cycleCtx, e) {
			if _, err := remediate(verdictFailure(v)); err != nil {
				return o.finish(ctx, e, rep, start, err)
			}
		}
	}

	return o.finish(ctx, e, rep, start, nil)
}

// halted reports whether the cycle may no longer start steps: the plan was
// paused or stopped, or the cycle context is done.
func (o *Orchestrator) halted(ctx context.Context, e *entry) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ctx.Err() != nil || e.stopping || e.plan.Status != plan.StatusActive
}

func (o *Orchestrator) stopping(e *entry) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopping
}

// replan consults the RePlanner and commits its result. It reports done when
// the cycle must end here (terminal plan).
func (o *Orchestrator) replan(ctx context.Context, e *entry, failure plan.FailureContext, rep *IterationReport) (bool, error) {
	rep.Replanned = true
	snap := e.snapshot()
	logger.Info("re-planning", "plan_id", snap.ID, "kind", string(failure.Kind), "reason", failure.Reason)

	revised, res, err := o.replanner.Replan(ctx, snap, failure)
	if err != nil {
		logger.LogErr(err, "re-planning failed")
		return true, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Steps cannot run while the run lock is held, so the revision only
	// replaces structure; keep the live iteration and status.
	revised.CurrentIteration = e.plan.CurrentIteration
	revised.Status = e.plan.Status
	e.plan = revised
	if n := len(revised.Changes); n > len(snap.Changes) {
		ch := revised.Changes[n-1]
		rep.Change = &ch
	}
	if res.Verdict != nil {
		v := res.Verdict.Clone()
		e.plan.LastVerdict = &v
		rep.Verdict = &v
	}

	now := o.now()
	switch {
	case res.Resolved:
		_ = e.plan.Transition(plan.StatusCompleted, plan.ReasonVerified, now)
		return true, nil
	case res.NoRemediation:
		_ = e.plan.Transition(plan.StatusFailed, plan.ReasonNoRemediation, now)
		logger.Warn("no remediation available", "plan_id", e.plan.ID)
		return true, fmt.Errorf("%w: plan %s", plan.ErrNoRemediation, e.plan.ID)
	}
	e.plan.UpdatedAt = now
	return false, nil
}

// dispatch runs the ready steps concurrently, bounded by the plan's worker
// pool. Steps still queued for a worker when the plan is paused or stopped
// are never started and stay Waiting.
func (o *Orchestrator) dispatch(ctx context.Context, e *entry, ready []plan.Step, rep *IterationReport) {
	snap := e.snapshot()
	policy := executor.PolicyFor(snap.ExecutionConfig())

	var g errgroup.Group
	if snap.WorkerPoolSize > 0 {
		g.SetLimit(snap.WorkerPoolSize)
	}
	outcomes := make([]*executor.Outcome, len(ready))
	for i, step := range ready {
		if o.halted(ctx, e) {
			break
		}
		g.Go(func() error {
			if !o.launch(ctx, e, step.ID) {
				return nil
			}
			out := o.execute(ctx, e, step, policy)
			outcomes[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	for i, out := range outcomes {
		if out == nil {
			continue
		}
		rep.Dispatched = append(rep.Dispatched, ready[i].ID)
		if out.Status == plan.StepDone {
			rep.Done = append(rep.Done, out.StepID)
		} else {
			rep.Failed = append(rep.Failed, out.StepID)
		}
	}
	logger.Info("cycle dispatched",
		"plan_id", snap.ID,
		"steps", strings.Join(rep.Dispatched, ","),
		"queued", strconv.Itoa(len(ready)-len(rep.Dispatched)),
		"done", strconv.Itoa(len(rep.Done)),
		"failed", strconv.Itoa(len(rep.Failed)))
}

// rewindCancelled returns steps interrupted by caller cancellation to Waiting.
func (o *Orchestrator) rewindCancelled(e *entry, ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		s := e.plan.Step(id)
		if s != nil && s.Status == plan.StepFailed && s.Error != nil && s.Error.Kind == plan.ErrorCancelled {
			s.Status = plan.StepWaiting
			s.Error = nil
			s.Result = ""
			s.StartedAt = time.Time{}
			s.FinishedAt = time.Time{}
		}
	}
}

// finish persists the plan and completes the report. A persistence failure
// is only reported when the cycle itself succeeded.
func (o *Orchestrator) finish(ctx context.Context, e *entry, rep IterationReport, start time.Time, cycleErr error) (IterationReport, error) {
	rep = o.report(e, rep, start)
	if err := o.persist(ctx, rep.Plan.Clone()); err != nil && cycleErr == nil {
		cycleErr = err
	}
	if rep.Plan.IsTerminal() {
		logger.Info("plan finished", "plan_id", rep.PlanID, "status", string(rep.Status), "reason", rep.Reason)
	}
	return rep, cycleErr
}

func (o *Orchestrator) report(e *entry, rep IterationReport, start time.Time) IterationReport {
	snap := e.snapshot()
	rep.Plan = snap
	rep.Iteration = snap.CurrentIteration
	rep.Status = snap.Status
	rep.Reason = snap.Reason
	rep.Duration = o.now().Sub(start)
	return rep
}

// pendingFailure returns the failure a cycle must re-plan for before
// dispatching, if any.
func pendingFailure(p *plan.Plan) *plan.FailureContext {
	if failure := stepFailure(p); failure != nil {
		return failure
	}
	if len(scheduler.Pending(p.Steps)) == 0 && p.LastVerdict != nil && !p.LastVerdict.Passed() {
		failure := verdictFailure(*p.LastVerdict)
		return &failure
	}
	return nil
}

// stepFailure reports failed steps nobody replaced, or a graph stalled
// behind failed or skipped dependencies.
func stepFailure(p *plan.Plan) *plan.FailureContext {
	if failed := p.UnhandledFailures(); len(failed) > 0 {
		ids := make([]string, len(failed))
		for i, s := range failed {
			ids[i] = s.ID
		}
		reason := "step " + strings.Join(ids, ", ") + " failed"
		if failed[0].Error != nil {
			reason += ": " + failed[0].Error.Error()
		}
		return &plan.FailureContext{
			Kind:         plan.FailureStep,
			FailedSteps:  failed,
			BlockedSteps: scheduler.Blocked(p.Steps),
			Reason:       reason,
		}
	}

	if scheduler.Stalled(p.Steps) {
		blocked := scheduler.Blocked(p.Steps)
		ids := make([]string, len(blocked))
		for i, s := range blocked {
			ids[i] = s.ID
		}
		return &plan.FailureContext{
			Kind:         plan.FailureBlocked,
			BlockedSteps: blocked,
			Reason:       "steps " + strings.Join(ids, ", ") + " are blocked by failed or skipped dependencies",
		}
	}
	return nil
}

func verdictFailure(v plan.Verdict) plan.FailureContext {
	v = v.Clone()
	kind := plan.FailureVerification
	if v.Outcome == plan.OutcomeInconclusive {
		kind = plan.FailureVerificationInconclusive
	}
	return plan.FailureContext{Kind: kind, Verdict: &v, Reason: v.Reason}
}

// readyToVerify reports whether nothing is left to run or remediate.
func readyToVerify(p *plan.Plan) bool {
	return p.Status == plan.StatusActive &&
		len(scheduler.Pending(p.Steps)) == 0 &&
		len(p.UnhandledFailures()) == 0
}

// Run calls Continue until the plan is no longer Active or a cycle fails,
// passing each report to onReport when it is non-nil.
func (o *Orchestrator) Run(ctx context.Context, id string, onReport func(IterationReport)) (IterationReport, error) {
	for {
		rep, err := o.Continue(ctx, id)
		if err == nil && onReport != nil {
			onReport(rep)
		}
		if err != nil || rep.NoOp || rep.Status != plan.StatusActive {
			return rep, err
		}
		if !rep.Replanned && len(rep.Dispatched) == 0 && rep.Verdict == nil {
			return rep, fmt.Errorf("plan %s made no progress in iteration %d", id, rep.Iteration)
		}
	}
}
