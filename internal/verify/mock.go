package verify

import (
	"context"
	"sync"

	"workloop/internal/plan"
)

// MockJudge implements [Judge] with a fixed answer and records the criteria it saw.
type MockJudge struct {
	Judgment Judgment
	Err      error

	mu    sync.Mutex
	Calls []string
}

func (m *MockJudge) Judge(ctx context.Context, criteria string, p *plan.Plan) (Judgment, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, criteria)
	m.mu.Unlock()
	if m.Err != nil {
		return Judgment{}, m.Err
	}
	return m.Judgment, nil
}

// MockRunner implements [CommandRunner] from a table of exit codes.
// Commands not in the table exit 0.
type MockRunner struct {
	Codes map[string]int
	Err   error
}

func (m *MockRunner) ExitCode(ctx context.Context, command string) (int, string, error) {
	if m.Err != nil {
		return -1, "", m.Err
	}
	return m.Codes[command], "", nil
}
