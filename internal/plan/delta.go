package plan

import (
	"fmt"
	"time"
)

// MaxIterationsBound is the upper limit accepted for [ExecutionConfig.MaxIterations].
const MaxIterationsBound = 50

// FailureKind classifies what triggered re-planning.
type FailureKind string

// Failure kinds passed to the Planner in a [FailureContext].
const (
	FailureStep                     FailureKind = "step_failure"
	FailureVerification             FailureKind = "verification_failure"
	FailureVerificationInconclusive FailureKind = "verification_inconclusive"
	FailureBlocked                  FailureKind = "blocked"
)

// FailureContext describes why the plan needs revision.
type FailureContext struct {
	Kind      FailureKind
	Iteration int

	// FailedSteps are Failed steps no earlier revision has superseded.
	FailedSteps []Step

	// BlockedSteps are Waiting steps that can never become ready because a
	// dependency is Failed or Skipped.
	BlockedSteps []Step

	// Verdict is set for verification failures.
	Verdict *Verdict

	Reason string
}

// PlanDelta is the Planner's answer to a [FailureContext].
//
// Added steps are appended to the arena. An added step naming Replaces takes over
// the failed step's role: Waiting dependants are rewired to it. Remove names
// Waiting steps that are no longer relevant; they become Skipped.
type PlanDelta struct {
	Add    []Step
	Remove []string
	Reason string
}

// Empty reports whether the delta adds no steps.
func (d PlanDelta) Empty() bool {
	return len(d.Add) == 0
}

// ExecutionConfig carries the per-plan execution settings.
type ExecutionConfig struct {
	// MaxIterations bounds continue cycles, 1..MaxIterationsBound.
	MaxIterations int

	Strategy Strategy

	// PerStepTimeout applies to each invocation attempt unless the step overrides it.
	PerStepTimeout time.Duration

	// PerStepRetryLimit is the total number of attempts a step gets.
	PerStepRetryLimit int

	// WorkerPoolSize bounds concurrent steps in a cycle. Zero means unbounded.
	WorkerPoolSize int

	// ParentPlan optionally links the new plan to the plan that spawned it.
	ParentPlan string
}

// Validate checks the configuration bounds, wrapping [ErrInvalidConfig].
func (c ExecutionConfig) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > MaxIterationsBound {
		return fmt.Errorf("%w: max iterations %d outside 1..%d", ErrInvalidConfig, c.MaxIterations, MaxIterationsBound)
	}
	if c.PerStepTimeout < 0 {
		return fmt.Errorf("%w: negative per-step timeout", ErrInvalidConfig)
	}
	if c.PerStepRetryLimit < 1 {
		return fmt.Errorf("%w: per-step retry limit must be at least 1", ErrInvalidConfig)
	}
	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("%w: negative worker pool size", ErrInvalidConfig)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
