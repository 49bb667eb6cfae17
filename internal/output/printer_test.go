package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"workloop/internal/orchestrator"
	"workloop/internal/plan"
)

func samplePlan() *plan.Plan {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return &plan.Plan{
		ID:               "p-1",
		Goal:             "create 3 files",
		ParentPlan:       "p-0",
		Status:           plan.StatusActive,
		MaxIterations:    5,
		CurrentIteration: 2,
		Strategy:         plan.FileExists("a.txt"),
		Steps: []plan.Step{
			{ID: "s1", Action: "@write-file(a.txt, a)", Status: plan.StepDone, StartedAt: t0, FinishedAt: t0.Add(1500 * time.Millisecond)},
			{ID: "s2", Description: "write b", Status: plan.StepFailed, Error: &plan.StepError{Kind: plan.ErrorPermanent, Message: "disk full"}, SupersededBy: []string{"s3"}},
			{ID: "s3", Description: "write b again", Status: plan.StepWaiting, DependsOn: []string{"s1"}},
		},
		LastVerdict: &plan.Verdict{Outcome: plan.OutcomeFailure, Kind: plan.StrategyFileExists, Reason: "missing b.txt", Score: 0.5},
		Changes: []plan.PlanChange{
			{Iteration: 2, Kind: plan.FailureStep, Reason: "retry b", Added: []string{"s3"}, Superseded: []string{"s2"}},
		},
		UpdatedAt: t0,
	}
}

func TestPrinter_Plan(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).Plan(samplePlan())

	out := buf.String()
	assert.Contains(t, out, "Plan p-1")
	assert.Contains(t, out, "create 3 files")
	assert.Contains(t, out, "2/5")
	assert.Contains(t, out, "1 done, 1 failed, 1 waiting, 0 skipped")
	assert.Contains(t, out, "p-0")
	assert.Contains(t, out, "superseded by s3")
	assert.Contains(t, out, "after s1")
	assert.Contains(t, out, "missing b.txt")
	assert.Contains(t, out, "+s3")
	assert.Contains(t, out, "1.5s")
}

func TestPrinter_PlanStarted(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).PlanStarted(samplePlan())

	out := buf.String()
	assert.Contains(t, out, "Plan started: p-1")
	assert.Contains(t, out, "5 iterations")
	assert.Contains(t, out, "write b again")
}

func TestPrinter_PlanList(t *testing.T) {
	tests := []struct {
		name  string
		plans []*plan.Plan
		want  []string
	}{
		{name: "empty", want: []string{"No plans"}},
		{
			name: "several",
			plans: []*plan.Plan{
				{ID: "a", Goal: "first", Status: plan.StatusCompleted, MaxIterations: 3, CurrentIteration: 1},
				{ID: "b", Goal: strings.Repeat("long goal ", 20), Status: plan.StatusPaused, MaxIterations: 3},
			},
			want: []string{"a", "completed", "1/3", "b", "paused", "..."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			NewPrinterWithWriter(buf).PlanList(tt.plans)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}

func TestPrinter_Iteration(t *testing.T) {
	tests := []struct {
		name    string
		rep     orchestrator.IterationReport
		want    []string
		notWant []string
	}{
		{
			name: "no-op",
			rep:  orchestrator.IterationReport{PlanID: "p-1", NoOp: true, Status: plan.StatusCompleted},
			want: []string{"already completed"},
		},
		{
			name:    "paused no-op",
			rep:     orchestrator.IterationReport{PlanID: "p-1", NoOp: true, Status: plan.StatusPaused},
			want:    []string{"p-1 is paused, nothing to do"},
			notWant: []string{"already"},
		},
		{
			name: "dispatch and verify",
			rep: orchestrator.IterationReport{
				PlanID:     "p-1",
				Iteration:  1,
				Dispatched: []string{"s1", "s2"},
				Done:       []string{"s1"},
				Failed:     []string{"s2"},
				Verdict:    &plan.Verdict{Outcome: plan.OutcomeSuccess, Kind: plan.StrategyFileExists, Score: 1},
				Status:     plan.StatusCompleted,
				Reason:     plan.ReasonVerified,
				Duration:   1234 * time.Millisecond,
			},
			want:    []string{"Iteration 1", "s1, s2", "success", "completed", "1.234s"},
			notWant: []string{"Revised"},
		},
		{
			name: "replanned",
			rep: orchestrator.IterationReport{
				PlanID:    "p-1",
				Iteration: 2,
				Replanned: true,
				Change:    &plan.PlanChange{Iteration: 2, Kind: plan.FailureStep, Added: []string{"s4"}, Removed: []string{"s3"}},
				Status:    plan.StatusActive,
			},
			want: []string{"Revised", "+s4", "-s3", "step_failure"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			NewPrinterWithWriter(buf).Iteration(tt.rep)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, buf.String(), w)
			}
		})
	}
}

func TestPrinter_Verdict_ShowsChecks(t *testing.T) {
	buf := &bytes.Buffer{}
	NewPrinterWithWriter(buf).Verdict(plan.Verdict{
		Outcome: plan.OutcomeFailure,
		Kind:    plan.StrategyCombined,
		Score:   0.5,
		Checks: []plan.Verdict{
			{Outcome: plan.OutcomeSuccess, Kind: plan.StrategyFileExists, Score: 1},
			{Outcome: plan.OutcomeInconclusive, Kind: plan.StrategyExternalValidation, Reason: "judge unavailable"},
		},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[2], "judge unavailable")
}

func TestPrinter_Step_TruncatesResult(t *testing.T) {
	buf := &bytes.Buffer{}
	result := strings.Repeat("line\n", 30)
	NewPrinterWithWriter(buf).Step("p-1", plan.Step{ID: "s1", Action: "ls", Status: plan.StepDone, Result: result})

	assert.Contains(t, buf.String(), "(10 more lines)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
}
