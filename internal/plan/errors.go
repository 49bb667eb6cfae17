package plan

import "errors"

// Sentinel errors for plan lifecycle operations. Callers match them with errors.Is;
// producers wrap them with context via fmt.Errorf("...: %w").
var (
	// ErrPlanNotFound indicates no plan with the given id exists in memory or in the store.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrStepNotFound indicates the step id is not part of the plan.
	ErrStepNotFound = errors.New("step not found")

	// ErrInvalidTransition is a caller error: the requested lifecycle command is not
	// allowed from the plan's (or step's) current status. No state changes.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDependencyCycle rejects a step graph whose dependsOn edges form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrInvalidGraph rejects duplicate, empty, or dangling step ids.
	ErrInvalidGraph = errors.New("invalid step graph")

	// ErrDependencyNotMet rejects manual execution of a step whose dependencies are not Done.
	ErrDependencyNotMet = errors.New("dependencies not met")

	// ErrPlanner indicates the Planner produced no steps or a malformed revision.
	ErrPlanner = errors.New("planner error")

	// ErrMaxIterationsExceeded is fatal: the plan moves to Failed.
	ErrMaxIterationsExceeded = errors.New("max iterations exceeded")

	// ErrNoRemediation is fatal: the Planner returned no new steps after a failure.
	ErrNoRemediation = errors.New("no remediation available")

	// ErrStore wraps persistence failures. In-memory plan state is preserved.
	ErrStore = errors.New("store error")

	// ErrStateCorruption reports a persisted plan that violates model invariants.
	// It requires operator intervention.
	ErrStateCorruption = errors.New("state corruption")

	// ErrInvalidConfig rejects an out-of-range ExecutionConfig.
	ErrInvalidConfig = errors.New("invalid execution config")

	// ErrInvalidStrategy rejects a malformed verification strategy.
	ErrInvalidStrategy = errors.New("invalid verification strategy")
)
