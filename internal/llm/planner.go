package llm

import (
	"context"
	"fmt"
	"strings"

	"workloop/internal/plan"
	"workloop/internal/planner"
)

// Completer sends a prompt and returns the model's reply. [Client] implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Planner implements planner.Planner with a chat model.
type Planner struct {
	llm Completer
}

// NewPlanner creates a Planner backed by c.
func NewPlanner(c Completer) *Planner {
	return &Planner{llm: c}
}

const generatePrompt = `Break down this goal into concrete, executable steps: %s

Respond with a numbered list of specific steps that can be executed using commands.
Focus on file operations, bash commands, and verification steps.
Each step should be specific and actionable. Where a step maps to one of these
actions, include it verbatim in the step:
  - @read-file(path)
  - @write-file(path, content)
  - @list-files(pattern)
  - @bash-cmd(command)
Steps run in order unless a step ends with [after N] naming the steps it needs.`

// Generate asks the model for a numbered plan. Unannotated steps run in order.
func (p *Planner) Generate(ctx context.Context, goal string, cfg plan.ExecutionConfig) ([]plan.Step, error) {
	reply, err := p.llm.Complete(ctx, fmt.Sprintf(generatePrompt, goal))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", plan.ErrPlanner, err)
	}
	steps := planner.ParseSteps(reply, planner.ParseOptions{Sequential: true})
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: model reply contained no numbered steps", plan.ErrPlanner)
	}
	return steps, nil
}

const revisePrompt = `A workflow toward this goal needs remediation: %s

Failure (%s): %s

Current steps:
%s
Respond with a numbered list of NEW steps that fix the problem, using the same
action syntax as before (@read-file, @write-file, @list-files, @bash-cmd).
End a step with [replaces <id>] when it takes over a failed step, and with
[after <id or N>] to name the steps it needs. Reply with NONE if nothing can fix it.`

// Revise asks the model for remediation steps. A NONE reply yields an empty delta.
func (p *Planner) Revise(ctx context.Context, pl *plan.Plan, failure plan.FailureContext) (plan.PlanDelta, error) {
	reply, err := p.llm.Complete(ctx, fmt.Sprintf(revisePrompt, pl.Goal, failure.Kind, failure.Reason, describeSteps(pl)))
	if err != nil {
		return plan.PlanDelta{}, fmt.Errorf("%w: %v", plan.ErrPlanner, err)
	}
	if planner.IsNone(reply) {
		return plan.PlanDelta{Reason: "model declined to remediate"}, nil
	}
	prefix := fmt.Sprintf("r%d-", failure.Iteration)
	steps := planner.ParseSteps(reply, planner.ParseOptions{IDPrefix: prefix, Sequential: true})
	return plan.PlanDelta{Add: steps, Reason: fmt.Sprintf("model proposed %d step(s) after %s", len(steps), failure.Kind)}, nil
}

func describeSteps(p *plan.Plan) string {
	var b strings.Builder
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "- %s [%s] %s", s.ID, s.Status, s.Description)
		if s.Error != nil {
			fmt.Fprintf(&b, " (error: %s)", s.Error.Message)
		} else if s.Result != "" {
			fmt.Fprintf(&b, " (result: %s)", oneLine(s.Result, 120))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
