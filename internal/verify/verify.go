// Package verify evaluates a plan's verification strategy.
//
// [Verifier.Verify] never returns an error: every problem is folded into the
// [plan.Verdict]. Only an external judge failure produces
// [plan.OutcomeInconclusive]; everything else is Success or Failure.
//
// Key types:
//   - [Verifier] - evaluates a [plan.Strategy] against a plan snapshot
//   - [Judge] - external validator for ExternalValidation strategies
//   - [CommandRunner] - runs CommandSuccess commands
//   - [MockJudge] - deterministic judge for tests
package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"workloop/internal/plan"
)

// Judgment is an external judge's answer.
type Judgment struct {
	Pass   bool
	Score  float64
	Reason string
}

// Judge decides whether free-text criteria are met by the plan's results.
// An error means the judge itself failed and makes the verdict inconclusive.
type Judge interface {
	Judge(ctx context.Context, criteria string, p *plan.Plan) (Judgment, error)
}

// CommandRunner runs a shell command and reports its exit code. An error means
// the command could not be run at all.
type CommandRunner interface {
	ExitCode(ctx context.Context, command string) (code int, output string, err error)
}

// Verifier evaluates verification strategies.
//
// File patterns are resolved relative to the work directory. The runner and
// judge are optional; a strategy that needs a missing collaborator fails
// (CommandSuccess) or is inconclusive (ExternalValidation).
type Verifier struct {
	workDir string
	runner  CommandRunner
	judge   Judge
	now     func() time.Time
}

// New creates a Verifier rooted at workDir.
func New(workDir string, runner CommandRunner, judge Judge) *Verifier {
	return &Verifier{
		workDir: workDir,
		runner:  runner,
		judge:   judge,
		now:     time.Now,
	}
}

// SetJudge replaces the external judge.
func (v *Verifier) SetJudge(j Judge) {
	v.judge = j
}

// Verify evaluates strategy against the plan snapshot p.
func (v *Verifier) Verify(ctx context.Context, strategy plan.Strategy, p *plan.Plan) plan.Verdict {
	verdict := v.evaluate(ctx, strategy, p)
	verdict.At = v.now()
	return verdict
}

func (v *Verifier) evaluate(ctx context.Context, s plan.Strategy, p *plan.Plan) plan.Verdict {
	switch s.Kind {
	case plan.StrategyFileExists:
		return v.fileExists(s)
	case plan.StrategyCommandSuccess:
		return v.commandSuccess(ctx, s)
	case plan.StrategyExternalValidation:
		return v.external(ctx, s, p)
	case plan.StrategyOutputPattern:
		return outputPattern(s, p)
	case plan.StrategyCombined:
		return v.combined(ctx, s, p)
	}
	return failure(s.Kind, fmt.Sprintf("unknown verification strategy %q", s.Kind), 0)
}

func (v *Verifier) fileExists(s plan.Strategy) plan.Verdict {
	if len(s.Paths) == 0 {
		return failure(s.Kind, "no path patterns given", 0)
	}
	var missing []string
	for _, pattern := range s.Paths {
		full := pattern
		if !filepath.IsAbs(full) && v.workDir != "" {
			full = filepath.Join(v.workDir, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil || len(matches) == 0 {
			missing = append(missing, pattern)
		}
	}
	score := float64(len(s.Paths)-len(missing)) / float64(len(s.Paths))
	if len(missing) > 0 {
		return failure(s.Kind, "no files match: "+strings.Join(missing, ", "), score)
	}
	return success(s.Kind, fmt.Sprintf("all %d patterns matched", len(s.Paths)))
}

func (v *Verifier) commandSuccess(ctx context.Context, s plan.Strategy) plan.Verdict {
	if v.runner == nil {
		return failure(s.Kind, "no command runner configured", 0)
	}
	code, output, err := v.runner.ExitCode(ctx, s.Command)
	if err != nil {
		return failure(s.Kind, fmt.Sprintf("command %q could not run: %v", s.Command, err), 0)
	}
	if code != s.ExpectedExitCode {
		reason := fmt.Sprintf("command %q exited %d, expected %d", s.Command, code, s.ExpectedExitCode)
		if out := strings.TrimSpace(output); out != "" {
			reason += ": " + truncate(out, 200)
		}
		return failure(s.Kind, reason, 0)
	}
	return success(s.Kind, fmt.Sprintf("command %q exited %d", s.Command, code))
}

func (v *Verifier) external(ctx context.Context, s plan.Strategy, p *plan.Plan) plan.Verdict {
	if v.judge == nil {
		return plan.Verdict{Outcome: plan.OutcomeInconclusive, Kind: s.Kind, Reason: "no external judge configured"}
	}
	j, err := v.judge.Judge(ctx, s.Criteria, p)
	if err != nil {
		return plan.Verdict{Outcome: plan.OutcomeInconclusive, Kind: s.Kind, Reason: "judge error: " + err.Error()}
	}
	outcome := plan.OutcomeFailure
	if j.Pass {
		outcome = plan.OutcomeSuccess
	}
	return plan.Verdict{Outcome: outcome, Kind: s.Kind, Reason: j.Reason, Score: clamp(j.Score)}
}

func outputPattern(s plan.Strategy, p *plan.Plan) plan.Verdict {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return failure(s.Kind, "invalid pattern: "+err.Error(), 0)
	}
	if p != nil {
		for _, step := range p.Steps {
			if step.Status == plan.StepDone && re.MatchString(step.Result) {
				return success(s.Kind, fmt.Sprintf("output of step %s matches %q", step.ID, s.Pattern))
			}
		}
	}
	return failure(s.Kind, fmt.Sprintf("no step output matches %q", s.Pattern), 0)
}

// combined is conjunctive: any Failure fails the whole, otherwise any
// Inconclusive makes it Inconclusive. The score is the mean of sub-scores.
func (v *Verifier) combined(ctx context.Context, s plan.Strategy, p *plan.Plan) plan.Verdict {
	if len(s.Strategies) == 0 {
		return failure(s.Kind, "combined strategy has no sub-strategies", 0)
	}
	checks := make([]plan.Verdict, 0, len(s.Strategies))
	var failed, inconclusive []string
	total := 0.0
	for _, sub := range s.Strategies {
		c := v.evaluate(ctx, sub, p)
		checks = append(checks, c)
		total += c.Score
		switch c.Outcome {
		case plan.OutcomeFailure:
			failed = append(failed, c.Reason)
		case plan.OutcomeInconclusive:
			inconclusive = append(inconclusive, c.Reason)
		}
	}
	verdict := plan.Verdict{
		Kind:   s.Kind,
		Score:  total / float64(len(checks)),
		Checks: checks,
	}
	switch {
	case len(failed) > 0:
		verdict.Outcome = plan.OutcomeFailure
		verdict.Reason = fmt.Sprintf("%d of %d checks failed: %s", len(failed), len(checks), strings.Join(failed, "; "))
	case len(inconclusive) > 0:
		verdict.Outcome = plan.OutcomeInconclusive
		verdict.Reason = fmt.Sprintf("%d of %d checks inconclusive: %s", len(inconclusive), len(checks), strings.Join(inconclusive, "; "))
	default:
		verdict.Outcome = plan.OutcomeSuccess
		verdict.Reason = fmt.Sprintf("all %d checks passed", len(checks))
	}
	return verdict
}

func success(kind plan.StrategyKind, reason string) plan.Verdict {
	return plan.Verdict{Outcome: plan.OutcomeSuccess, Kind: kind, Reason: reason, Score: 1}
}

func failure(kind plan.StrategyKind, reason string, score float64) plan.Verdict {
	return plan.Verdict{Outcome: plan.OutcomeFailure, Kind: kind, Reason: reason, Score: score}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
