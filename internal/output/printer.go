// Package output renders plans, iteration reports and verdicts for the terminal.
//
// Rendering uses lipgloss styles. Colors are dropped automatically when the
// writer is not a terminal, so the same text can be asserted in tests.
//
// Key types:
//   - [Printer] is the interface the CLI writes through
//   - [DefaultPrinter] renders to an io.Writer, stdout by default
package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"workloop/internal/orchestrator"
	"workloop/internal/plan"
)

// Printer renders workloop results.
type Printer interface {
	PlanStarted(p *plan.Plan)
	Plan(p *plan.Plan)
	PlanList(plans []*plan.Plan)
	Iteration(rep orchestrator.IterationReport)
	Verdict(v plan.Verdict)
	Step(planID string, s plan.Step)
	StepProgress(planID string, s plan.Step)
	Message(format string, args ...any)
}

// DefaultPrinter is the lipgloss-backed [Printer].
type DefaultPrinter struct {
	out      io.Writer
	renderer *lipgloss.Renderer
}

// NewPrinter creates a printer writing to stdout.
func NewPrinter() *DefaultPrinter {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a printer writing to w.
func NewPrinterWithWriter(w io.Writer) *DefaultPrinter {
	return &DefaultPrinter{out: w, renderer: lipgloss.NewRenderer(w)}
}

func (p *DefaultPrinter) style(s lipgloss.Style) lipgloss.Style {
	return s.Renderer(p.renderer)
}

func (p *DefaultPrinter) println(s string) {
	fmt.Fprintln(p.out, s)
}

// Message prints a plain line.
func (p *DefaultPrinter) Message(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// PlanStarted prints the banner shown when a plan is created.
func (p *DefaultPrinter) PlanStarted(pl *plan.Plan) {
	lines := []string{
		p.style(headerStyle).Render("Plan started: " + pl.ID),
		p.field("Goal", pl.Goal),
		p.field("Steps", strconv.Itoa(len(pl.Steps))),
		p.field("Verify", pl.Strategy.String()),
		p.field("Budget", fmt.Sprintf("%d iterations", pl.MaxIterations)),
	}
	if pl.ParentPlan != "" {
		lines = append(lines, p.field("Parent", pl.ParentPlan))
	}
	p.println(p.style(boxStyle).Render(strings.Join(lines, "\n")))
	p.println(p.steps(pl.Steps))
}

// Plan prints the full status view of a plan.
func (p *DefaultPrinter) Plan(pl *plan.Plan) {
	lines := []string{
		p.style(headerStyle).Render("Plan " + pl.ID),
		p.field("Goal", pl.Goal),
		p.field("Status", p.status(pl.Status, pl.Reason)),
		p.field("Iteration", fmt.Sprintf("%d/%d", pl.CurrentIteration, pl.MaxIterations)),
		p.field("Verify", pl.Strategy.String()),
		p.field("Progress", fmt.Sprintf("%d done, %d failed, %d waiting, %d skipped",
			pl.CountByStatus(plan.StepDone),
			pl.CountByStatus(plan.StepFailed),
			pl.CountByStatus(plan.StepWaiting),
			pl.CountByStatus(plan.StepSkipped))),
	}
	if pl.ParentPlan != "" {
		lines = append(lines, p.field("Parent", pl.ParentPlan))
	}
	lines = append(lines, p.field("Updated", pl.UpdatedAt.Format(time.RFC3339)))
	p.println(p.style(boxStyle).Render(strings.Join(lines, "\n")))
	p.println(p.steps(pl.Steps))

	if pl.LastVerdict != nil {
		p.Verdict(*pl.LastVerdict)
	}
	if len(pl.Changes) > 0 {
		p.println(p.style(headerStyle).Render("Revisions"))
		for _, ch := range pl.Changes {
			p.println(p.change(ch))
		}
	}
}

// PlanList prints one line per plan.
func (p *DefaultPrinter) PlanList(plans []*plan.Plan) {
	if len(plans) == 0 {
		p.println(p.style(mutedStyle).Render("No plans"))
		return
	}
	for _, pl := range plans {
		p.println(fmt.Sprintf("%s %-36s %-10s %d/%d  %s",
			p.statusIcon(pl.Status),
			pl.ID,
			string(pl.Status),
			pl.CurrentIteration, pl.MaxIterations,
			truncate(pl.Goal, 50)))
	}
}

// Iteration prints the summary of one continue cycle.
func (p *DefaultPrinter) Iteration(rep orchestrator.IterationReport) {
	if rep.NoOp {
		state := "is " + string(rep.Status)
		if rep.Status.IsTerminal() {
			state = "is already " + string(rep.Status)
		}
		p.println(p.style(mutedStyle).Render(fmt.Sprintf("Plan %s %s, nothing to do", rep.PlanID, state)))
		return
	}

	lines := []string{
		p.style(headerStyle).Render(fmt.Sprintf("Iteration %d: %s", rep.Iteration, rep.PlanID)),
	}
	if rep.Change != nil {
		lines = append(lines, p.field("Revised", p.change(*rep.Change)))
	} else if rep.Replanned {
		lines = append(lines, p.field("Revised", "no change"))
	}
	if len(rep.Dispatched) > 0 {
		lines = append(lines, p.field("Dispatched", strings.Join(rep.Dispatched, ", ")))
	}
	if len(rep.Done) > 0 {
		lines = append(lines, p.field("Done", p.style(successStyle).Render(strings.Join(rep.Done, ", "))))
	}
	if len(rep.Failed) > 0 {
		lines = append(lines, p.field("Failed", p.style(failureStyle).Render(strings.Join(rep.Failed, ", "))))
	}
	if rep.Verdict != nil {
		lines = append(lines, p.field("Verdict", p.verdictLine(*rep.Verdict)))
	}
	lines = append(lines,
		p.field("Status", p.status(rep.Status, rep.Reason)),
		p.field("Duration", rep.Duration.Round(time.Millisecond).String()))
	p.println(p.style(boxStyle).Render(strings.Join(lines, "\n")))
}

// Verdict prints a verification result with its sub-checks.
func (p *DefaultPrinter) Verdict(v plan.Verdict) {
	p.println(p.verdictLine(v))
	for _, c := range v.Checks {
		p.println("  " + p.verdictLine(c))
	}
}

// Step prints the result of a single step.
func (p *DefaultPrinter) Step(planID string, s plan.Step) {
	p.println(p.stepLine(s))
	if s.Result != "" {
		p.println(p.style(mutedStyle).Render(indent(truncateLines(s.Result, 20))))
	}
}

// StepProgress prints a step status change as it happens.
func (p *DefaultPrinter) StepProgress(planID string, s plan.Step) {
	p.println(p.stepLine(s))
}

func (p *DefaultPrinter) steps(steps []plan.Step) string {
	lines := make([]string, 0, len(steps))
	for _, s := range steps {
		lines = append(lines, p.stepLine(s))
	}
	return strings.Join(lines, "\n")
}

func (p *DefaultPrinter) stepLine(s plan.Step) string {
	line := fmt.Sprintf("%s %-4s %s", p.stepIcon(s), s.ID, truncate(stepLabel(s), 60))
	if len(s.DependsOn) > 0 {
		line += p.style(mutedStyle).Render(" after " + strings.Join(s.DependsOn, ","))
	}
	switch {
	case s.Superseded():
		line += p.style(mutedStyle).Render(" (superseded by " + strings.Join(s.SupersededBy, ",") + ")")
	case s.Error != nil:
		line += " " + p.style(failureStyle).Render(truncate(s.Error.Error(), 60))
	case s.Status == plan.StepDone && s.Duration() > 0:
		line += p.style(mutedStyle).Render(" " + s.Duration().Round(time.Millisecond).String())
	}
	return line
}

func (p *DefaultPrinter) stepIcon(s plan.Step) string {
	switch s.Status {
	case plan.StepDone:
		return p.style(successStyle).Render("✓")
	case plan.StepFailed:
		if s.Superseded() {
			return p.style(mutedStyle).Render("✗")
		}
		return p.style(failureStyle).Render("✗")
	case plan.StepRunning:
		return p.style(activeStyle).Render("●")
	case plan.StepSkipped:
		return p.style(mutedStyle).Render("⊘")
	default:
		return "○"
	}
}

func (p *DefaultPrinter) statusIcon(s plan.Status) string {
	switch s {
	case plan.StatusCompleted:
		return p.style(successStyle).Render("✓")
	case plan.StatusFailed:
		return p.style(failureStyle).Render("✗")
	case plan.StatusStopped:
		return p.style(mutedStyle).Render("⊘")
	case plan.StatusPaused:
		return p.style(warnStyle).Render("‖")
	default:
		return p.style(activeStyle).Render("●")
	}
}

func (p *DefaultPrinter) status(s plan.Status, reason string) string {
	text := string(s)
	if reason != "" {
		text += " (" + reason + ")"
	}
	switch s {
	case plan.StatusCompleted:
		return p.style(successStyle).Render(text)
	case plan.StatusFailed:
		return p.style(failureStyle).Render(text)
	case plan.StatusPaused, plan.StatusStopped:
		return p.style(warnStyle).Render(text)
	default:
		return p.style(activeStyle).Render(text)
	}
}

func (p *DefaultPrinter) verdictLine(v plan.Verdict) string {
	var outcome string
	switch v.Outcome {
	case plan.OutcomeSuccess:
		outcome = p.style(successStyle).Render("✓ " + string(v.Outcome))
	case plan.OutcomeFailure:
		outcome = p.style(failureStyle).Render("✗ " + string(v.Outcome))
	default:
		outcome = p.style(warnStyle).Render("? " + string(v.Outcome))
	}
	line := fmt.Sprintf("%s %s score %.2f", outcome, v.Kind, v.Score)
	if v.Reason != "" {
		line += ": " + truncate(v.Reason, 80)
	}
	return line
}

func (p *DefaultPrinter) change(ch plan.PlanChange) string {
	parts := []string{fmt.Sprintf("#%d %s", ch.Iteration, ch.Kind)}
	if len(ch.Added) > 0 {
		parts = append(parts, "+"+strings.Join(ch.Added, ",+"))
	}
	if len(ch.Removed) > 0 {
		parts = append(parts, "-"+strings.Join(ch.Removed, ",-"))
	}
	if len(ch.Superseded) > 0 {
		parts = append(parts, "superseded "+strings.Join(ch.Superseded, ","))
	}
	if ch.Reason != "" {
		parts = append(parts, truncate(ch.Reason, 60))
	}
	return strings.Join(parts, " ")
}

func (p *DefaultPrinter) field(label, value string) string {
	return p.style(labelStyle).Render(label) + value
}

func stepLabel(s plan.Step) string {
	if s.Description != "" {
		return s.Description
	}
	return s.Action
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// truncateLines keeps the first n lines and notes how many were hidden.
func truncateLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-n)
}

func indent(s string) string {
	return "   " + strings.ReplaceAll(s, "\n", "\n   ")
}
