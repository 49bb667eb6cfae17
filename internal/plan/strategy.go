package plan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StrategyKind tags the variant held by a [Strategy].
type StrategyKind string

// Verification strategy kinds.
const (
	StrategyFileExists         StrategyKind = "file_exists"
	StrategyCommandSuccess     StrategyKind = "command_success"
	StrategyExternalValidation StrategyKind = "external_validation"
	StrategyOutputPattern      StrategyKind = "output_pattern"
	StrategyCombined           StrategyKind = "combined"
)

// Strategy is a tagged verification rule. Only the fields belonging to Kind are set.
//
// Combined succeeds iff every sub-strategy succeeds.
type Strategy struct {
	Kind StrategyKind `json:"kind" yaml:"kind"`

	// Paths holds glob patterns for StrategyFileExists.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// Command and ExpectedExitCode are used by StrategyCommandSuccess.
	Command          string `json:"command,omitempty" yaml:"command,omitempty"`
	ExpectedExitCode int    `json:"expected_exit_code,omitempty" yaml:"expected_exit_code,omitempty"`

	// Criteria is the free-text question for StrategyExternalValidation.
	Criteria string `json:"criteria,omitempty" yaml:"criteria,omitempty"`

	// Pattern is the regular expression for StrategyOutputPattern.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Strategies are the conjuncts of StrategyCombined.
	Strategies []Strategy `json:"strategies,omitempty" yaml:"strategies,omitempty"`
}

// FileExists builds a strategy requiring every pattern to match at least one file.
func FileExists(patterns ...string) Strategy {
	return Strategy{Kind: StrategyFileExists, Paths: patterns}
}

// CommandSuccess builds a strategy requiring command to exit with expectedExitCode.
func CommandSuccess(command string, expectedExitCode int) Strategy {
	return Strategy{Kind: StrategyCommandSuccess, Command: command, ExpectedExitCode: expectedExitCode}
}

// ExternalValidation builds a strategy delegating judgment to an external judge.
func ExternalValidation(criteria string) Strategy {
	return Strategy{Kind: StrategyExternalValidation, Criteria: criteria}
}

// OutputPattern builds a strategy matching a regular expression against step output.
func OutputPattern(pattern string) Strategy {
	return Strategy{Kind: StrategyOutputPattern, Pattern: pattern}
}

// Combined builds a conjunctive strategy.
func Combined(strategies ...Strategy) Strategy {
	return Strategy{Kind: StrategyCombined, Strategies: strategies}
}

// Validate checks that the strategy carries the fields its kind requires.
func (s Strategy) Validate() error {
	switch s.Kind {
	case StrategyFileExists:
		if len(s.Paths) == 0 {
			return fmt.Errorf("%w: file_exists needs at least one path pattern", ErrInvalidStrategy)
		}
	case StrategyCommandSuccess:
		if strings.TrimSpace(s.Command) == "" {
			return fmt.Errorf("%w: command_success needs a command", ErrInvalidStrategy)
		}
	case StrategyExternalValidation:
		if strings.TrimSpace(s.Criteria) == "" {
			return fmt.Errorf("%w: external_validation needs criteria", ErrInvalidStrategy)
		}
	case StrategyOutputPattern:
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return fmt.Errorf("%w: output_pattern: %v", ErrInvalidStrategy, err)
		}
	case StrategyCombined:
		if len(s.Strategies) == 0 {
			return fmt.Errorf("%w: combined needs at least one sub-strategy", ErrInvalidStrategy)
		}
		for i, sub := range s.Strategies {
			if err := sub.Validate(); err != nil {
				return fmt.Errorf("combined[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, s.Kind)
	}
	return nil
}

// String renders the strategy in the same syntax [ParseStrategy] accepts.
func (s Strategy) String() string {
	switch s.Kind {
	case StrategyFileExists:
		return "file-exists=" + strings.Join(s.Paths, ",")
	case StrategyCommandSuccess:
		if s.ExpectedExitCode != 0 {
			return fmt.Sprintf("command:%d=%s", s.ExpectedExitCode, s.Command)
		}
		return "command=" + s.Command
	case StrategyExternalValidation:
		return "external=" + s.Criteria
	case StrategyOutputPattern:
		return "pattern=" + s.Pattern
	case StrategyCombined:
		parts := make([]string, len(s.Strategies))
		for i, sub := range s.Strategies {
			parts[i] = sub.String()
		}
		return "combined(" + strings.Join(parts, "; ") + ")"
	}
	return string(s.Kind)
}

// Clone returns a deep copy of the strategy.
func (s Strategy) Clone() Strategy {
	s.Paths = cloneStrings(s.Paths)
	if s.Strategies != nil {
		subs := make([]Strategy, len(s.Strategies))
		for i, sub := range s.Strategies {
			subs[i] = sub.Clone()
		}
		s.Strategies = subs
	}
	return s
}

// ParseStrategy parses the command-line form of a single strategy:
//
//	file-exists=out/a.txt,out/*.md
//	command=go test ./...
//	command:2=grep -q TODO main.go
//	external=the README explains installation
//	pattern=^PASS
func ParseStrategy(spec string) (Strategy, error) {
	key, value, ok := strings.Cut(spec, "=")
	if !ok {
		return Strategy{}, fmt.Errorf("%w: %q is not kind=value", ErrInvalidStrategy, spec)
	}
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)

	var s Strategy
	switch {
	case key == "file-exists" || key == "file_exists" || key == "files":
		var paths []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
		s = FileExists(paths...)
	case key == "command" || key == "command_success":
		s = CommandSuccess(value, 0)
	case strings.HasPrefix(key, "command:"):
		code, err := strconv.Atoi(strings.TrimPrefix(key, "command:"))
		if err != nil {
			return Strategy{}, fmt.Errorf("%w: bad exit code in %q", ErrInvalidStrategy, spec)
		}
		s = CommandSuccess(value, code)
	case key == "external" || key == "external_validation" || key == "llm":
		s = ExternalValidation(value)
	case key == "pattern" || key == "output_pattern":
		s = OutputPattern(value)
	default:
		return Strategy{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidStrategy, key)
	}
	if err := s.Validate(); err != nil {
		return Strategy{}, err
	}
	return s, nil
}

// ParseStrategies parses several specs. A single spec yields that strategy; more than
// one yields a Combined strategy over all of them.
func ParseStrategies(specs []string) (Strategy, error) {
	if len(specs) == 0 {
		return Strategy{}, fmt.Errorf("%w: no strategy given", ErrInvalidStrategy)
	}
	parsed := make([]Strategy, 0, len(specs))
	for _, spec := range specs {
		s, err := ParseStrategy(spec)
		if err != nil {
			return Strategy{}, err
		}
		parsed = append(parsed, s)
	}
	if len(parsed) == 1 {
		return parsed[0], nil
	}
	return Combined(parsed...), nil
}
