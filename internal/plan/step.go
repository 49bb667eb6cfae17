package plan

import (
	"fmt"
	"time"
)

// StepStatus is the execution state of a step.
//
// Steps move Waiting -> Running -> {Done, Failed}. Skipped is reachable from
// Waiting when the plan is stopped or a re-plan removes the step.
type StepStatus string

// Step status values.
const (
	StepWaiting StepStatus = "waiting"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// IsValid reports whether s is one of the known step statuses.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepWaiting, StepRunning, StepDone, StepFailed, StepSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether a step in this status will not run again.
func (s StepStatus) IsTerminal() bool {
	return s == StepDone || s == StepFailed || s == StepSkipped
}

// ErrorKind classifies why a step failed.
type ErrorKind string

// Step error kinds.
const (
	ErrorTimeout   ErrorKind = "timeout"
	ErrorTransient ErrorKind = "transient"
	ErrorPermanent ErrorKind = "permanent"
	ErrorCancelled ErrorKind = "cancelled"
	ErrorRemoved   ErrorKind = "removed"
)

// StepError is the serializable failure record attached to a terminal step.
type StepError struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Step is one schedulable unit of work within a plan.
type Step struct {
	// ID is unique within the plan and never reused.
	ID string `json:"id" yaml:"id"`

	// Ordinal breaks ties when ordering ready steps. It is not an execution order.
	Ordinal int `json:"ordinal" yaml:"ordinal"`

	Description string `json:"description" yaml:"description"`

	// Action is the opaque payload handed to the tool invoker.
	Action string `json:"action" yaml:"action"`

	// DependsOn lists step ids that must be Done before this step may run.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	Status StepStatus `json:"status" yaml:"status"`

	// Attempts counts execution attempts across the step's lifetime.
	Attempts int `json:"attempts" yaml:"attempts"`

	// Timeout overrides the configured per-step timeout when non-zero.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RetryLimit overrides the configured attempt limit when non-zero.
	RetryLimit int `json:"retry_limit,omitempty" yaml:"retry_limit,omitempty"`

	// Replaces names the failed step this step was added to remediate.
	Replaces string `json:"replaces,omitempty" yaml:"replaces,omitempty"`

	// SupersededBy lists the steps that replaced this one during re-planning.
	SupersededBy []string `json:"superseded_by,omitempty" yaml:"superseded_by,omitempty"`

	Result string     `json:"result,omitempty" yaml:"result,omitempty"`
	Error  *StepError `json:"error,omitempty" yaml:"error,omitempty"`

	StartedAt  time.Time `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// Superseded reports whether a re-plan has replaced this step.
func (s *Step) Superseded() bool {
	return len(s.SupersededBy) > 0
}

// Duration returns how long the step ran, or zero if it never started.
func (s *Step) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	s.DependsOn = cloneStrings(s.DependsOn)
	s.SupersededBy = cloneStrings(s.SupersededBy)
	if s.Error != nil {
		e := *s.Error
		s.Error = &e
	}
	return s
}
