package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"workloop/internal/plan"
	"workloop/internal/verify"
)

// DefaultPassThreshold is the minimum normalised score a judgment needs to pass.
const DefaultPassThreshold = 0.7

// Judge implements verify.Judge by asking a chat model to score the plan.
type Judge struct {
	llm       Completer
	threshold float64
}

// NewJudge creates a Judge. A threshold outside (0, 1] falls back to [DefaultPassThreshold].
func NewJudge(c Completer, threshold float64) *Judge {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultPassThreshold
	}
	return &Judge{llm: c, threshold: threshold}
}

const judgePrompt = `Verify if this workflow has successfully achieved its goal: %s

Success criteria: %s

Steps executed:
%s
Rate the success on a scale of 0-10 and explain why.
Format: SCORE: X/10
REASON: explanation`

// Judge asks the model to score the plan against criteria. A transport failure
// or a reply without a SCORE line is an error.
func (j *Judge) Judge(ctx context.Context, criteria string, p *plan.Plan) (verify.Judgment, error) {
	goal := ""
	if p != nil {
		goal = p.Goal
	}
	reply, err := j.llm.Complete(ctx, fmt.Sprintf(judgePrompt, goal, criteria, judgeSteps(p)))
	if err != nil {
		return verify.Judgment{}, err
	}
	score, reason, err := ParseJudgment(reply)
	if err != nil {
		return verify.Judgment{}, err
	}
	return verify.Judgment{Pass: score >= j.threshold, Score: score, Reason: reason}, nil
}

// ParseJudgment extracts the normalised score and reason from a
// "SCORE: X/10" / "REASON: ..." reply.
func ParseJudgment(reply string) (float64, string, error) {
	score := -1.0
	reason := ""
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*"))
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SCORE:") && score < 0:
			v := strings.TrimSpace(line[len("SCORE:"):])
			v = strings.TrimSpace(strings.TrimSuffix(v, "/10"))
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, "", fmt.Errorf("unparseable score %q", v)
			}
			score = f / 10
		case strings.HasPrefix(upper, "REASON:") && reason == "":
			reason = strings.TrimSpace(line[len("REASON:"):])
		}
	}
	if score < 0 {
		return 0, "", fmt.Errorf("judge reply has no SCORE line")
	}
	if score > 1 {
		score = 1
	}
	if reason == "" {
		reason = "no reason given"
	}
	return score, reason, nil
}

func judgeSteps(p *plan.Plan) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range p.Steps {
		mark := "pending"
		switch s.Status {
		case plan.StepDone:
			mark = "done"
		case plan.StepFailed:
			mark = "failed"
		case plan.StepSkipped:
			mark = "skipped"
		}
		result := s.Result
		if result == "" {
			result = "No result"
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", s.Description, oneLine(result, 200), mark)
	}
	return b.String()
}
