package invoker

import (
	"context"
	"sync"
	"time"
)

// MockResponse scripts the result of one invocation.
type MockResponse struct {
	Output string
	Err    error

	// Delay blocks the invocation until it elapses or ctx is done.
	Delay time.Duration
}

// Mock implements [Invoker] from a script keyed by action. Each action consumes
// its responses in order and keeps repeating the last one. Unscripted actions
// return their own text as output.
//
// Mock is safe for concurrent use.
type Mock struct {
	mu        sync.Mutex
	responses map[string][]MockResponse

	// Calls records every action invoked, in call order.
	Calls []string
}

// NewMock creates an empty [Mock].
func NewMock() *Mock {
	return &Mock{responses: make(map[string][]MockResponse)}
}

// On appends scripted responses for an action and returns the mock for chaining.
func (m *Mock) On(action string, responses ...MockResponse) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[action] = append(m.responses[action], responses...)
	return m
}

// CallCount returns how many times action was invoked.
func (m *Mock) CallCount(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == action {
			n++
		}
	}
	return n
}

func (m *Mock) Invoke(ctx context.Context, action string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, action)
	resp := MockResponse{Output: action}
	if queue := m.responses[action]; len(queue) > 0 {
		resp = queue[0]
		if len(queue) > 1 {
			m.responses[action] = queue[1:]
		}
	}
	m.mu.Unlock()

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return resp.Output, resp.Err
}
