// Package replan splices Planner remediation into a live plan.
//
// [RePlanner.Replan] asks the Planner to revise a plan snapshot and applies the
// returned [plan.PlanDelta] to a copy, never to the caller's plan. The step
// arena only grows: added steps get fresh ids, removed steps become Skipped,
// and replaced steps stay Failed with SupersededBy set, so history and
// dependency references stay intact.
//
// Inconclusive verification is first re-run up to the re-verify limit; the
// Planner is only consulted when the verdict stays inconclusive or fails.
package replan

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rohanthewiz/logger"

	"workloop/internal/plan"
	"workloop/internal/planner"
)

// Verifier re-runs goal verification for inconclusive verdicts.
type Verifier interface {
	Verify(ctx context.Context, strategy plan.Strategy, p *plan.Plan) plan.Verdict
}

// Result summarises one Replan call.
type Result struct {
	Added      []string
	Removed    []string
	Superseded []string

	// NoRemediation is set when the Planner returned no new steps.
	NoRemediation bool

	// Verdict is the final verdict when re-verification ran.
	Verdict *plan.Verdict

	// Reverified counts verification re-runs.
	Reverified int

	// Resolved is set when re-verification succeeded and no revision was needed.
	Resolved bool
}

// RePlanner applies Planner revisions to plans.
type RePlanner struct {
	planner       planner.Planner
	verifier      Verifier
	reverifyLimit int
	now           func() time.Time
}

// New creates a RePlanner without re-verification.
func New(p planner.Planner) *RePlanner {
	return &RePlanner{planner: p, now: time.Now}
}

// SetVerifier enables re-running inconclusive verification up to limit times.
func (r *RePlanner) SetVerifier(v Verifier, limit int) {
	r.verifier = v
	r.reverifyLimit = limit
}

// Replan revises p in response to failure and returns the revised copy.
//
// The input plan is never modified. On a Planner error, a malformed delta, or a
// delta that would break the dependency graph, Replan returns an error and the
// caller keeps its plan unchanged. An empty delta yields a copy with the
// PlanChange recorded and Result.NoRemediation set; the caller decides the
// terminal transition.
func (r *RePlanner) Replan(ctx context.Context, p *plan.Plan, failure plan.FailureContext) (*plan.Plan, Result, error) {
	var res Result

	if failure.Kind == plan.FailureVerificationInconclusive && r.verifier != nil {
		for res.Reverified < r.reverifyLimit {
			res.Reverified++
			v := r.verifier.Verify(ctx, p.Strategy, p.Clone())
			res.Verdict = &v
			logger.Debug("re-verified inconclusive plan",
				"plan_id", p.ID,
				"attempt", strconv.Itoa(res.Reverified),
				"outcome", string(v.Outcome))
			if v.Outcome == plan.OutcomeSuccess {
				res.Resolved = true
				return p.Clone(), res, nil
			}
			if v.Outcome == plan.OutcomeFailure {
				failure.Kind = plan.FailureVerification
				failure.Verdict = &v
				failure.Reason = v.Reason
				break
			}
		}
	}

	delta, err := r.planner.Revise(ctx, p.Clone(), failure)
	if err != nil {
		return nil, res, fmt.Errorf("%w: revise plan %s: %v", plan.ErrPlanner, p.ID, err)
	}

	next := p.Clone()
	now := r.now()
	change := plan.PlanChange{
		Iteration: failure.Iteration,
		Kind:      failure.Kind,
		Reason:    changeReason(failure, delta),
		At:        now,
	}

	if delta.Empty() {
		res.NoRemediation = true
		change.Reason = "no remediation: " + change.Reason
		next.Changes = append(next.Changes, change)
		next.UpdatedAt = now
		return next, res, nil
	}

	if err := apply(next, delta, failure, now, &res); err != nil {
		return nil, res, err
	}
	if err := plan.ValidateSteps(next.Steps); err != nil {
		return nil, res, fmt.Errorf("revision rejected: %w", err)
	}

	change.Added = res.Added
	change.Removed = res.Removed
	change.Superseded = res.Superseded
	next.Changes = append(next.Changes, change)
	next.UpdatedAt = now

	logger.Info("plan revised",
		"plan_id", p.ID,
		"kind", string(failure.Kind),
		"added", strings.Join(res.Added, ","),
		"removed", strings.Join(res.Removed, ","),
		"superseded", strings.Join(res.Superseded, ","))
	return next, res, nil
}

func changeReason(failure plan.FailureContext, delta plan.PlanDelta) string {
	reason := failure.Reason
	if reason == "" {
		reason = string(failure.Kind)
	}
	if delta.Reason != "" {
		reason += "; " + delta.Reason
	}
	return reason
}

// apply splices delta into p in place. p must be a private copy.
//
// References inside the delta resolve to the delta's own step ids first, then
// to existing steps. Added ids that are empty or already taken are reassigned.
func apply(p *plan.Plan, delta plan.PlanDelta, failure plan.FailureContext, now time.Time, res *Result) error {
	taken := make(map[string]bool, len(p.Steps)+len(delta.Add))
	maxOrdinal := 0
	for _, s := range p.Steps {
		taken[s.ID] = true
		if s.Ordinal > maxOrdinal {
			maxOrdinal = s.Ordinal
		}
	}

	rename := make(map[string]string, len(delta.Add))
	added := make([]plan.Step, 0, len(delta.Add))
	for i, s := range delta.Add {
		s = s.Clone()
		if s.Action == "" {
			s.Action = s.Description
		}
		if s.Action == "" {
			return fmt.Errorf("%w: added step %d has no action", plan.ErrPlanner, i+1)
		}
		id := s.ID
		if id == "" || taken[id] {
			id = freshID(taken, len(p.Steps)+i+1)
		}
		taken[id] = true
		if _, seen := rename[s.ID]; s.ID != "" && !seen {
			rename[s.ID] = id
		}
		s.ID = id
		s.Ordinal = maxOrdinal + i + 1
		s.Status = plan.StepWaiting
		s.Attempts = 0
		s.Result = ""
		s.Error = nil
		s.SupersededBy = nil
		s.StartedAt = time.Time{}
		s.FinishedAt = time.Time{}
		added = append(added, s)
	}
	for i := range added {
		for j, dep := range added[i].DependsOn {
			if to, ok := rename[dep]; ok {
				added[i].DependsOn[j] = to
			}
		}
	}

	// Which existing steps each added step takes over.
	replacements := make(map[string][]string)
	for _, s := range added {
		if s.Replaces == "" {
			continue
		}
		old := p.Step(s.Replaces)
		if old == nil {
			return fmt.Errorf("%w: step %s replaces unknown step %s", plan.ErrPlanner, s.ID, s.Replaces)
		}
		if old.Status != plan.StepFailed && old.Status != plan.StepSkipped {
			return fmt.Errorf("%w: step %s replaces %s step %s", plan.ErrPlanner, s.ID, old.Status, old.ID)
		}
		replacements[old.ID] = append(replacements[old.ID], s.ID)
	}

	// Failures nobody claimed are handed to the whole delta.
	var all []string
	for _, s := range added {
		all = append(all, s.ID)
	}
	for _, f := range failure.FailedSteps {
		if _, ok := replacements[f.ID]; !ok && p.Step(f.ID) != nil {
			replacements[f.ID] = all
		}
	}

	for _, id := range delta.Remove {
		s := p.Step(id)
		if s == nil {
			return fmt.Errorf("%w: cannot remove unknown step %s", plan.ErrPlanner, id)
		}
		if s.Status != plan.StepWaiting {
			logger.Warn("ignoring removal of non-waiting step", "plan_id", p.ID, "step_id", id, "status", string(s.Status))
			continue
		}
		s.Status = plan.StepSkipped
		s.Error = &plan.StepError{Kind: plan.ErrorRemoved, Message: removalReason(delta)}
		s.FinishedAt = now
		res.Removed = append(res.Removed, id)
	}

	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Status == plan.StepWaiting {
			s.DependsOn = rewire(s.DependsOn, replacements)
		}
	}
	for old, by := range replacements {
		if len(by) == 0 {
			continue
		}
		s := p.Step(old)
		s.SupersededBy = append(s.SupersededBy, by...)
		res.Superseded = append(res.Superseded, old)
	}
	sort.Strings(res.Superseded)

	p.Steps = append(p.Steps, added...)
	res.Added = all
	return nil
}

func rewire(deps []string, replacements map[string][]string) []string {
	if len(deps) == 0 {
		return deps
	}
	seen := make(map[string]bool, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		targets := []string{d}
		if by, ok := replacements[d]; ok && len(by) > 0 {
			targets = by
		}
		for _, t := range targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func freshID(taken map[string]bool, n int) string {
	for {
		id := "s" + strconv.Itoa(n)
		if !taken[id] {
			return id
		}
		n++
	}
}

func removalReason(delta plan.PlanDelta) string {
	if delta.Reason != "" {
		return "removed by re-plan: " + delta.Reason
	}
	return "removed by re-plan"
}
