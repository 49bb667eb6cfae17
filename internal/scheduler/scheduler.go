// Package scheduler decides which plan steps are eligible to run.
//
// Every function here is pure: it reads a step slice and returns a new slice
// of copies, never mutating its input. The orchestrator calls [Ready] at the
// start of each cycle and dispatches the result concurrently; steps returned
// together are mutually independent because none of them is Done yet.
//
// Key functions:
//   - [Ready] - Waiting steps whose dependencies are all Done, ordinal order
//   - [Blocked] - Waiting steps that can never run (a dependency Failed or was Skipped)
//   - [Pending] - steps still Waiting or Running
//   - [Stalled] - nothing ready or running, yet Waiting steps remain
package scheduler

import (
	"sort"

	"workloop/internal/plan"
)

// Ready returns the Waiting steps whose dependsOn are all Done, ordered by
// ordinal ascending with the step id as a final tie-break.
func Ready(steps []plan.Step) []plan.Step {
	status := statusIndex(steps)
	var ready []plan.Step
	for _, s := range steps {
		if s.Status != plan.StepWaiting {
			continue
		}
		if !dependenciesDone(s, status) {
			continue
		}
		ready = append(ready, s.Clone())
	}
	sortByOrdinal(ready)
	return ready
}

// IsReady reports whether the step with the given id would be returned by [Ready].
func IsReady(steps []plan.Step, id string) bool {
	status := statusIndex(steps)
	for _, s := range steps {
		if s.ID == id {
			return s.Status == plan.StepWaiting && dependenciesDone(s, status)
		}
	}
	return false
}

// Blocked returns Waiting steps that can never become ready: some dependency,
// directly or transitively, is Failed or Skipped.
func Blocked(steps []plan.Step) []plan.Step {
	index := make(map[string]plan.Step, len(steps))
	for _, s := range steps {
		index[s.ID] = s
	}

	memo := make(map[string]bool, len(steps))
	var dead func(id string, seen map[string]bool) bool
	dead = func(id string, seen map[string]bool) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		s, ok := index[id]
		if !ok {
			return true
		}
		switch s.Status {
		case plan.StepFailed, plan.StepSkipped:
			memo[id] = true
			return true
		case plan.StepDone, plan.StepRunning:
			memo[id] = false
			return false
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		result := false
		for _, dep := range s.DependsOn {
			if dead(dep, seen) {
				result = true
				break
			}
		}
		memo[id] = result
		return result
	}

	var blocked []plan.Step
	for _, s := range steps {
		if s.Status != plan.StepWaiting {
			continue
		}
		for _, dep := range s.DependsOn {
			if dead(dep, map[string]bool{}) {
				blocked = append(blocked, s.Clone())
				break
			}
		}
	}
	sortByOrdinal(blocked)
	return blocked
}

// Pending returns the steps that are still Waiting or Running.
func Pending(steps []plan.Step) []plan.Step {
	var pending []plan.Step
	for _, s := range steps {
		if s.Status == plan.StepWaiting || s.Status == plan.StepRunning {
			pending = append(pending, s.Clone())
		}
	}
	sortByOrdinal(pending)
	return pending
}

// Stalled reports whether Waiting steps remain but none is ready and none is running.
func Stalled(steps []plan.Step) bool {
	waiting := false
	for _, s := range steps {
		switch s.Status {
		case plan.StepRunning:
			return false
		case plan.StepWaiting:
			waiting = true
		}
	}
	return waiting && len(Ready(steps)) == 0
}

func statusIndex(steps []plan.Step) map[string]plan.StepStatus {
	status := make(map[string]plan.StepStatus, len(steps))
	for _, s := range steps {
		status[s.ID] = s.Status
	}
	return status
}

func dependenciesDone(s plan.Step, status map[string]plan.StepStatus) bool {
	for _, dep := range s.DependsOn {
		if status[dep] != plan.StepDone {
			return false
		}
	}
	return true
}

func sortByOrdinal(steps []plan.Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Ordinal == steps[j].Ordinal {
			return steps[i].ID < steps[j].ID
		}
		return steps[i].Ordinal < steps[j].Ordinal
	})
}
