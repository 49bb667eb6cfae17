// Package planner produces and revises plan step lists.
//
// The orchestrator depends only on the [Planner] interface. Implementations:
//   - [Manifest] - static step lists read from a CSV file, with optional remediation rows
//   - [Mock] - deterministic scripted planner for tests
//   - the llm package's Planner, which asks a chat model and parses its numbered list
//     with [ParseSteps]
package planner

import (
	"context"

	"workloop/internal/plan"
)

// Planner turns a goal into steps and revises a plan after failure.
//
// Generate must return at least one step or an error. Revise returns zero or
// more steps to add plus Waiting step ids to remove; an empty Add means no
// remediation is available.
type Planner interface {
	Generate(ctx context.Context, goal string, cfg plan.ExecutionConfig) ([]plan.Step, error)
	Revise(ctx context.Context, p *plan.Plan, failure plan.FailureContext) (plan.PlanDelta, error)
}
