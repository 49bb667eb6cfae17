package plan

import (
	"fmt"
	"sort"
)

// ValidateSteps checks that step ids are non-empty and unique, that every
// dependency names a known step, and that the dependsOn edges are acyclic.
//
// Graph shape errors wrap [ErrInvalidGraph]; cycles wrap [ErrDependencyCycle].
func ValidateSteps(steps []Step) error {
	index := make(map[string]*Step, len(steps))
	for i := range steps {
		s := &steps[i]
		if s.ID == "" {
			return fmt.Errorf("%w: step at position %d has an empty id", ErrInvalidGraph, i)
		}
		if _, dup := index[s.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidGraph, s.ID)
		}
		index[s.ID] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return fmt.Errorf("%w: step %q depends on itself", ErrDependencyCycle, s.ID)
			}
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%w: step %q depends on unknown step %q", ErrInvalidGraph, s.ID, dep)
			}
		}
	}

	visiting := make(map[string]bool, len(steps))
	visited := make(map[string]bool, len(steps))
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if visiting[id] {
			return fmt.Errorf("%w: %v", ErrDependencyCycle, append(path, id))
		}
		if visited[id] {
			return nil
		}
		visiting[id] = true
		for _, dep := range index[id].DependsOn {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		return nil
	}

	ids := make([]string, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}
