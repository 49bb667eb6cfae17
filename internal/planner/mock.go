package planner

import (
	"context"
	"fmt"
	"sync"

	"workloop/internal/plan"
)

// Mock implements [Planner] deterministically for tests.
//
// Generate returns Steps (or GenerateErr). Each Revise call consumes the next
// entry of Revisions; once they run out Revise returns an empty delta.
type Mock struct {
	Steps       []plan.Step
	GenerateErr error

	Revisions []plan.PlanDelta
	ReviseErr error

	mu sync.Mutex

	// Goals records the goal passed to each Generate call.
	Goals []string

	// Failures records the failure context passed to each Revise call.
	Failures []plan.FailureContext
}

func (m *Mock) Generate(ctx context.Context, goal string, cfg plan.ExecutionConfig) ([]plan.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Goals = append(m.Goals, goal)
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	if len(m.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps for goal %q", plan.ErrPlanner, goal)
	}
	steps := make([]plan.Step, len(m.Steps))
	for i, s := range m.Steps {
		steps[i] = s.Clone()
	}
	return steps, nil
}

func (m *Mock) Revise(ctx context.Context, p *plan.Plan, failure plan.FailureContext) (plan.PlanDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, failure)
	if m.ReviseErr != nil {
		return plan.PlanDelta{}, m.ReviseErr
	}
	if len(m.Revisions) == 0 {
		return plan.PlanDelta{}, nil
	}
	d := m.Revisions[0]
	m.Revisions = m.Revisions[1:]
	add := make([]plan.Step, len(d.Add))
	for i, s := range d.Add {
		add[i] = s.Clone()
	}
	d.Add = add
	return d, nil
}

// ReviseCalls returns how many times Revise was called.
func (m *Mock) ReviseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Failures)
}
