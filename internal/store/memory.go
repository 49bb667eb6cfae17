package store

import (
	"context"
	"sort"
	"sync"

	"workloop/internal/plan"
)

// Memory keeps deep copies of plans in a map. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	plans map[string]*plan.Plan
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{plans: make(map[string]*plan.Plan)}
}

func (m *Memory) Save(ctx context.Context, p *plan.Plan) error {
	if err := validID(p.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.plans[p.ID]; ok && stale(cur.UpdatedAt, p.UpdatedAt) {
		return nil
	}
	m.plans[p.ID] = p.Clone()
	return nil
}

func (m *Memory) Load(ctx context.Context, id string) (*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, notFound(id)
	}
	return p.Clone(), nil
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.plans))
	for id := range m.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return notFound(id)
	}
	delete(m.plans, id)
	return nil
}
