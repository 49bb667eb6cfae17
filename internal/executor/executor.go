// Package executor runs one ready step through the tool invoker.
//
// [Executor.Run] enforces the per-attempt timeout, retries transient failures
// with exponential backoff until the attempt limit is spent, and classifies the
// final failure. Transient failures never surface past this package; callers
// only see the terminal [Outcome].
//
// Key types:
//   - [Executor] - retrying, rate-limited step runner
//   - [Policy] - the plan-level timeout and attempt limit
//   - [Outcome] - terminal result of one Run
//   - [Backoff] - delay schedule between attempts
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rohanthewiz/logger"
	"golang.org/x/time/rate"

	"workloop/internal/invoker"
	"workloop/internal/plan"
)

// Policy holds the plan-level execution limits. A step's own Timeout and
// RetryLimit take precedence when set.
type Policy struct {
	// Timeout bounds each attempt. Zero disables the timeout.
	Timeout time.Duration

	// RetryLimit is the total number of attempts. Values below 1 mean one attempt.
	RetryLimit int
}

// PolicyFor derives a [Policy] from an execution config.
func PolicyFor(cfg plan.ExecutionConfig) Policy {
	return Policy{Timeout: cfg.PerStepTimeout, RetryLimit: cfg.PerStepRetryLimit}
}

// Outcome is the terminal result of running a step.
type Outcome struct {
	StepID string

	// Status is StepDone or StepFailed.
	Status plan.StepStatus

	Output string
	Err    *plan.StepError

	// Attempts is the number of invocations made by this Run.
	Attempts int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Executor runs steps through an [invoker.Invoker].
//
// Use [New] to create an instance; [SetBackoff] and [SetRateLimit] adjust the
// optional behaviour. Executor is safe for concurrent use once configured.
type Executor struct {
	invoker invoker.Invoker
	backoff Backoff
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates an Executor with [DefaultBackoff] and no rate limit.
func New(inv invoker.Invoker) *Executor {
	return &Executor{
		invoker: inv,
		backoff: DefaultBackoff,
		now:     time.Now,
	}
}

// SetBackoff replaces the delay schedule between retry attempts.
func (e *Executor) SetBackoff(b Backoff) {
	e.backoff = b
}

// SetRateLimit caps invocations across all steps at perSecond with the given burst.
// A non-positive rate removes the limit.
func (e *Executor) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		e.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Run invokes the step's action until it succeeds, fails permanently, runs out
// of attempts, or ctx is cancelled.
//
// Timeouts and [invoker.Transient] errors are retried. Any other error is
// permanent. Cancellation of ctx yields a Failed outcome with kind
// [plan.ErrorCancelled].
func (e *Executor) Run(ctx context.Context, step plan.Step, policy Policy) Outcome {
	limit := policy.RetryLimit
	if step.RetryLimit > 0 {
		limit = step.RetryLimit
	}
	if limit < 1 {
		limit = 1
	}
	timeout := policy.Timeout
	if step.Timeout > 0 {
		timeout = step.Timeout
	}

	out := Outcome{StepID: step.ID, StartedAt: e.now()}
	finish := func(status plan.StepStatus, output string, stepErr *plan.StepError) Outcome {
		out.Status = status
		out.Output = output
		out.Err = stepErr
		out.FinishedAt = e.now()
		return out
	}
	cancelled := func(output string) Outcome {
		return finish(plan.StepFailed, output, &plan.StepError{Kind: plan.ErrorCancelled, Message: "step cancelled"})
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return cancelled("")
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return cancelled("")
			}
		}

		out.Attempts = attempt
		output, err := e.attempt(ctx, step.Action, timeout)
		if err == nil {
			return finish(plan.StepDone, output, nil)
		}

		kind := classify(ctx, err)
		if kind == plan.ErrorCancelled {
			return cancelled(output)
		}
		stepErr := &plan.StepError{Kind: kind, Message: err.Error()}
		if kind == plan.ErrorPermanent || attempt >= limit {
			logger.Warn("step failed",
				"step_id", step.ID,
				"kind", string(kind),
				"attempts", strconv.Itoa(attempt),
				"error", err.Error())
			return finish(plan.StepFailed, output, stepErr)
		}

		delay := e.backoff.Delay(attempt)
		logger.Debug("retrying step",
			"step_id", step.ID,
			"attempt", strconv.Itoa(attempt),
			"delay", delay.String(),
			"error", err.Error())
		if err := sleepCtx(ctx, delay); err != nil {
			return cancelled(output)
		}
	}
}

// attempt runs one invocation under its own deadline.
func (e *Executor) attempt(ctx context.Context, action string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return e.invoker.Invoke(ctx, action, 0)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	output, err := e.invoker.Invoke(actx, action, timeout)
	if err != nil && actx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return output, fmt.Errorf("%w after %s", errTimeout, timeout)
	}
	return output, err
}

var errTimeout = errors.New("step timed out")

// classify maps an invocation error to a step error kind. The parent context
// is checked first so that a stop always reads as a cancellation.
func classify(ctx context.Context, err error) plan.ErrorKind {
	if ctx.Err() != nil {
		return plan.ErrorCancelled
	}
	if errors.Is(err, errTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return plan.ErrorTimeout
	}
	if errors.Is(err, context.Canceled) {
		return plan.ErrorCancelled
	}
	if invoker.IsTransient(err) {
		return plan.ErrorTransient
	}
	return plan.ErrorPermanent
}
