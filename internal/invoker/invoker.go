// Package invoker executes the concrete action behind a plan step.
//
// The orchestrator treats step actions as opaque strings; an [Invoker] turns one
// into raw output. Failures are reported as [*Error] values classified as
// [Transient] (retried by the executor) or [Permanent] (the step fails at once).
//
// Key types:
//   - [Invoker] - the interface the step executor depends on
//   - [Shell] - runs actions through a shell, with built-in @actions
//   - [Agent] - hands the action to an agent CLI that streams JSON events
//   - [Mock] - scripted invoker for tests
package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Invoker executes a single step action.
//
// Invoke must honour ctx cancellation. The timeout is advisory for invokers that
// need to pass it to a remote side; the caller also enforces it through ctx.
type Invoker interface {
	Invoke(ctx context.Context, action string, timeout time.Duration) (string, error)
}

// Kind classifies an invocation failure.
type Kind string

// Invocation failure kinds.
const (
	Transient Kind = "transient"
	Permanent Kind = "permanent"
)

// Error is an invocation failure carrying its retry classification.
type Error struct {
	Kind Kind

	// ExitCode is the process exit code when the action ran a subprocess, else -1.
	ExitCode int

	// Output is whatever the action produced before failing.
	Output string

	Err error
}

func (e *Error) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s invoker error (exit %d): %v", e.Kind, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s invoker error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(err error) *Error {
	return &Error{Kind: Transient, ExitCode: -1, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(err error) *Error {
	return &Error{Kind: Permanent, ExitCode: -1, Err: err}
}

// IsTransient reports whether err is an [*Error] classified as [Transient].
func IsTransient(err error) bool {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind == Transient
	}
	return false
}

// classifyExit maps a subprocess exit code to a failure kind.
func classifyExit(code int, transientCodes []int) Kind {
	for _, c := range transientCodes {
		if c == code {
			return Transient
		}
	}
	return Permanent
}
