package plan

import "time"

// Outcome is the result class of a verification.
type Outcome string

// Verification outcomes. Inconclusive is only produced when an external judge errors.
const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailure      Outcome = "failure"
	OutcomeInconclusive Outcome = "inconclusive"
)

// Verdict is the evaluated result of a [Strategy].
type Verdict struct {
	Outcome Outcome      `json:"outcome" yaml:"outcome"`
	Kind    StrategyKind `json:"kind" yaml:"kind"`
	Reason  string       `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Score is the fraction of the check that passed, in [0, 1].
	Score float64 `json:"score" yaml:"score"`

	// Checks holds sub-verdicts for Combined strategies.
	Checks []Verdict `json:"checks,omitempty" yaml:"checks,omitempty"`

	At time.Time `json:"at" yaml:"at"`
}

// Passed reports whether the verdict is a success.
func (v Verdict) Passed() bool {
	return v.Outcome == OutcomeSuccess
}

// Clone returns a deep copy of the verdict.
func (v Verdict) Clone() Verdict {
	if v.Checks != nil {
		checks := make([]Verdict, len(v.Checks))
		for i, c := range v.Checks {
			checks[i] = c.Clone()
		}
		v.Checks = checks
	}
	return v
}
