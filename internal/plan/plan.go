// Package plan defines the workflow plan model shared by every workloop component.
//
// A [Plan] records a goal, the ordered arena of [Step] values decomposing it, the
// iteration budget, the verification [Strategy], and an append-only log of
// [PlanChange] entries written by re-planning. Plans are owned and mutated by the
// orchestrator only; everyone else works on snapshots produced by [Plan.Clone].
//
// Key types:
//   - [Plan] - the full record of a goal's decomposition and execution state
//   - [Step] - one schedulable unit of work within a plan
//   - [Strategy] - tagged verification rule (file, command, external, pattern, combined)
//   - [Verdict] - outcome of evaluating a Strategy
//   - [PlanDelta] and [FailureContext] - the re-planning contract with the Planner
//
// Step ids are never freed or reused: re-planning appends new steps and marks
// replaced ones as superseded, so dependency references never dangle.
package plan

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a plan.
type Status string

// Plan status values.
const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reasons recorded on [Plan.Reason].
const (
	ReasonMaxIterationsExceeded = "MaxIterationsExceeded"
	ReasonNoRemediation         = "NoRemediation"
	ReasonStopped               = "StoppedByUser"
	ReasonVerified              = "Verified"
)

// IsValid reports whether s is one of the known plan statuses.
func (s Status) IsValid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// IsTerminal reports whether s is an absorbing state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusStopped
}

var allowedTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusPaused:    {},
		StatusCompleted: {},
		StatusFailed:    {},
		StatusStopped:   {},
	},
	StatusPaused: {
		StatusActive:  {},
		StatusStopped: {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusStopped:   {},
}

// ValidateTransition returns an error wrapping [ErrInvalidTransition] when the
// plan state machine does not allow moving from one status to the other.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() || !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q -> %q", ErrInvalidTransition, from, to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// PlanChange is one entry of the append-only re-planning log.
type PlanChange struct {
	// Iteration is the plan iteration the change was recorded at.
	Iteration int `json:"iteration" yaml:"iteration"`

	// Kind is the failure that triggered re-planning.
	Kind FailureKind `json:"kind" yaml:"kind"`

	// Reason is a human-readable summary of why the plan changed.
	Reason string `json:"reason" yaml:"reason"`

	Added      []string `json:"added,omitempty" yaml:"added,omitempty"`
	Removed    []string `json:"removed,omitempty" yaml:"removed,omitempty"`
	Superseded []string `json:"superseded,omitempty" yaml:"superseded,omitempty"`

	At time.Time `json:"at" yaml:"at"`
}

// Plan is the full record of a goal's decomposition and execution state.
type Plan struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id" yaml:"id"`

	// Goal is the free-text objective. Immutable after creation.
	Goal string `json:"goal" yaml:"goal"`

	// ParentPlan optionally links a plan to the plan it was spawned from.
	ParentPlan string `json:"parent_plan,omitempty" yaml:"parent_plan,omitempty"`

	Status Status `json:"status" yaml:"status"`

	// Reason explains a terminal status (e.g. [ReasonNoRemediation]).
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Steps is the step arena in creation order.
	Steps []Step `json:"steps" yaml:"steps"`

	MaxIterations    int `json:"max_iterations" yaml:"max_iterations"`
	CurrentIteration int `json:"current_iteration" yaml:"current_iteration"`

	Strategy Strategy `json:"verification_strategy" yaml:"verification_strategy"`

	// Execution settings the plan was started with.
	PerStepTimeout    time.Duration `json:"per_step_timeout,omitempty" yaml:"per_step_timeout,omitempty"`
	PerStepRetryLimit int           `json:"per_step_retry_limit,omitempty" yaml:"per_step_retry_limit,omitempty"`
	WorkerPoolSize    int           `json:"worker_pool_size,omitempty" yaml:"worker_pool_size,omitempty"`

	// LastVerdict is the most recent goal verification, if any ran.
	LastVerdict *Verdict `json:"last_verdict,omitempty" yaml:"last_verdict,omitempty"`

	Changes []PlanChange `json:"plan_changes,omitempty" yaml:"plan_changes,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// IsTerminal reports whether the plan reached Completed, Failed, or Stopped.
func (p *Plan) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// Transition moves the plan to a new status, bumping UpdatedAt.
func (p *Plan) Transition(to Status, reason string, now time.Time) error {
	if err := ValidateTransition(p.Status, to); err != nil {
		return err
	}
	p.Status = to
	if reason != "" {
		p.Reason = reason
	}
	p.UpdatedAt = now
	return nil
}

// ExecutionConfig reconstructs the settings the plan runs under.
func (p *Plan) ExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		MaxIterations:     p.MaxIterations,
		Strategy:          p.Strategy.Clone(),
		PerStepTimeout:    p.PerStepTimeout,
		PerStepRetryLimit: p.PerStepRetryLimit,
		WorkerPoolSize:    p.WorkerPoolSize,
		ParentPlan:        p.ParentPlan,
	}
}

// Step returns a pointer into the arena for the given step id, or nil.
func (p *Plan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// CountByStatus returns how many steps are currently in the given status.
func (p *Plan) CountByStatus(s StepStatus) int {
	n := 0
	for _, step := range p.Steps {
		if step.Status == s {
			n++
		}
	}
	return n
}

// UnhandledFailures returns failed steps that no re-plan has superseded yet.
func (p *Plan) UnhandledFailures() []Step {
	var failed []Step
	for _, step := range p.Steps {
		if step.Status == StepFailed && !step.Superseded() {
			failed = append(failed, step.Clone())
		}
	}
	return failed
}

// Clone returns a deep copy safe to hand to readers while the original mutates.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	c.Strategy = p.Strategy.Clone()
	if p.Steps != nil {
		c.Steps = make([]Step, len(p.Steps))
		for i, s := range p.Steps {
			c.Steps[i] = s.Clone()
		}
	}
	if p.Changes != nil {
		c.Changes = make([]PlanChange, len(p.Changes))
		for i, ch := range p.Changes {
			ch.Added = cloneStrings(ch.Added)
			ch.Removed = cloneStrings(ch.Removed)
			ch.Superseded = cloneStrings(ch.Superseded)
			c.Changes[i] = ch
		}
	}
	if p.LastVerdict != nil {
		v := p.LastVerdict.Clone()
		c.LastVerdict = &v
	}
	return &c
}

// CheckIntegrity validates the invariants a persisted plan must satisfy.
// Violations wrap [ErrStateCorruption].
func (p *Plan) CheckIntegrity() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plan id is empty", ErrStateCorruption)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("%w: plan %s has unknown status %q", ErrStateCorruption, p.ID, p.Status)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("%w: plan %s has max_iterations %d", ErrStateCorruption, p.ID, p.MaxIterations)
	}
	if p.CurrentIteration < 0 || p.CurrentIteration > p.MaxIterations {
		return fmt.Errorf("%w: plan %s iteration %d outside 0..%d", ErrStateCorruption, p.ID, p.CurrentIteration, p.MaxIterations)
	}
	for _, s := range p.Steps {
		if !s.Status.IsValid() {
			return fmt.Errorf("%w: step %s has unknown status %q", ErrStateCorruption, s.ID, s.Status)
		}
	}
	if err := ValidateSteps(p.Steps); err != nil {
		return fmt.Errorf("%w: plan %s: %v", ErrStateCorruption, p.ID, err)
	}
	return nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
