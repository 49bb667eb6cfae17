package planner

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"workloop/internal/plan"
)

// Manifest is a static [Planner] backed by a step manifest CSV.
//
// CSV format (only id and action are required):
//
//	id,description,action,depends_on,timeout,retry_limit,replaces
//	build,Build the binary,make build,,5m,,
//	test,Run tests,make test,build,,2,
//	fix-test,Regenerate fixtures,make fixtures,build,,,test
//
// depends_on lists ids separated by spaces or semicolons. Rows with a replaces
// value are remediation steps: they are withheld from the initial plan and
// offered by Revise when the step they name has failed.
type Manifest struct {
	// Steps are the manifest rows in file order.
	Steps []plan.Step
}

// ReadManifestFile reads and parses a step manifest CSV file.
func ReadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	return readManifest(f)
}

// ReadManifestString parses a step manifest from a CSV string.
func ReadManifestString(data string) (*Manifest, error) {
	return readManifest(strings.NewReader(data))
}

var requiredColumns = []string{"id", "action"}

func readManifest(r io.Reader) (*Manifest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}
	colIndex := buildColumnIndex(header)
	for _, col := range requiredColumns {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("manifest missing required column: %s", col)
		}
	}

	var rows []plan.Step
	lineNum := 1
	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest line %d: %w", lineNum, err)
		}

		step := plan.Step{
			ID:          getField(record, colIndex, "id"),
			Description: getField(record, colIndex, "description"),
			Action:      getField(record, colIndex, "action"),
			DependsOn:   splitRefs(getField(record, colIndex, "depends_on")),
			Replaces:    getField(record, colIndex, "replaces"),
			Status:      plan.StepWaiting,
			Ordinal:     len(rows) + 1,
		}
		if step.ID == "" || step.Action == "" {
			return nil, fmt.Errorf("manifest line %d: id and action are required", lineNum)
		}
		if step.Description == "" {
			step.Description = step.Action
		}
		if v := getField(record, colIndex, "timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: bad timeout %q: %w", lineNum, v, err)
			}
			step.Timeout = d
		}
		if v := getField(record, colIndex, "retry_limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("manifest line %d: bad retry_limit %q", lineNum, v)
			}
			step.RetryLimit = n
		}
		rows = append(rows, step)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("manifest contains no steps")
	}
	return &Manifest{Steps: rows}, nil
}

func buildColumnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(strings.ToLower(col))] = i
	}
	return index
}

func getField(record []string, colIndex map[string]int, column string) string {
	idx, ok := colIndex[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// Generate returns the manifest's non-remediation steps. The goal is not consulted.
func (m *Manifest) Generate(ctx context.Context, goal string, cfg plan.ExecutionConfig) ([]plan.Step, error) {
	var steps []plan.Step
	for _, s := range m.Steps {
		if s.Replaces == "" {
			steps = append(steps, s.Clone())
		}
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: manifest has no initial steps", plan.ErrPlanner)
	}
	return steps, nil
}

// Revise offers the remediation rows naming any of the failed steps that are not
// already part of the plan. Other failures get an empty delta.
func (m *Manifest) Revise(ctx context.Context, p *plan.Plan, failure plan.FailureContext) (plan.PlanDelta, error) {
	failed := make(map[string]bool, len(failure.FailedSteps))
	for _, s := range failure.FailedSteps {
		failed[s.ID] = true
	}

	var delta plan.PlanDelta
	for _, s := range m.Steps {
		if s.Replaces == "" || !failed[s.Replaces] {
			continue
		}
		if p.Step(s.ID) != nil {
			continue
		}
		delta.Add = append(delta.Add, s.Clone())
	}
	if len(delta.Add) > 0 {
		delta.Reason = fmt.Sprintf("manifest remediation for %d failed step(s)", len(failed))
	}
	return delta, nil
}
