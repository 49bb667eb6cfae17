// Package config provides configuration loading and management for workloop.
//
// Configuration is loaded using Viper, supporting YAML or JSON config files and
// environment variable overrides. The package provides defaults that work out
// of the box: plans persist as YAML files under ./.workloop/plans, steps run
// through the local shell, and the planner talks to an OpenRouter-compatible
// endpoint.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [ExecutionSettings] holds per-plan limits and retry pacing
//   - [InvokerConfig] selects how step actions are executed
//
// Configuration priority (highest to lowest):
//  1. Environment variables (WORKLOOP_ prefix, e.g. WORKLOOP_STORE_DRIVER)
//  2. Config file specified by WORKLOOP_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/workloop/config.yaml
//     - macOS: ~/Library/Application Support/workloop/config.yaml
//     - Windows: %APPDATA%\workloop\config.yaml
//  4. ./workloop.yaml
//  5. [DefaultConfig] defaults
package config

import (
	"fmt"
	"strings"
	"time"

	"workloop/internal/executor"
	"workloop/internal/invoker"
	"workloop/internal/llm"
	"workloop/internal/plan"
	"workloop/internal/store"
)

// Planner kinds accepted in [PlannerConfig.Kind].
const (
	PlannerLLM      = "llm"
	PlannerManifest = "manifest"
)

// Invoker kinds accepted in [InvokerConfig.Kind].
const (
	InvokerShell = "shell"
	InvokerAgent = "agent"
)

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used by the
// CLI to assemble the orchestrator. Use [DefaultConfig] to get defaults.
type Config struct {
	// Exec holds the execution limits applied to new plans.
	Exec ExecutionSettings `mapstructure:"execution"`

	// Verification holds the default goal verification strategy.
	Verification VerificationConfig `mapstructure:"verification"`

	// Store selects the persistence back-end for plans.
	Store store.Config `mapstructure:"store"`

	Planner PlannerConfig `mapstructure:"planner"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Invoker InvokerConfig `mapstructure:"invoker"`
	Log     LogConfig     `mapstructure:"log"`
}

// ExecutionSettings defines iteration limits and how step attempts are paced.
type ExecutionSettings struct {
	// MaxIterations bounds continue cycles per plan, 1..50.
	// Default: 10
	MaxIterations int `mapstructure:"max_iterations"`

	// PerStepTimeout applies to each invocation attempt.
	// Default: 2m
	PerStepTimeout time.Duration `mapstructure:"per_step_timeout"`

	// PerStepRetryLimit is the total number of attempts a step gets.
	// Default: 3
	PerStepRetryLimit int `mapstructure:"per_step_retry_limit"`

	// WorkerPoolSize bounds concurrent steps in a cycle. 0 means unbounded.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	Backoff BackoffConfig `mapstructure:"backoff"`

	// InvokeRate caps tool invocations per second across all steps.
	// 0 means unlimited.
	InvokeRate  float64 `mapstructure:"invoke_rate"`
	InvokeBurst int     `mapstructure:"invoke_burst"`

	// ReverifyLimit is how many times an inconclusive verification is re-run
	// before the planner is asked for remediation.
	// Default: 1
	ReverifyLimit int `mapstructure:"reverify_limit"`
}

// BackoffConfig is the delay schedule between retry attempts.
type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Multiplier float64       `mapstructure:"multiplier"`
	Max        time.Duration `mapstructure:"max"`
}

// VerificationConfig holds the strategy used when a plan is started without one.
type VerificationConfig struct {
	// Strategies use the CLI flag syntax, e.g. "file-exists=a.txt,b.txt" or
	// "command=go test ./...". Several entries are combined.
	Strategies []string `mapstructure:"strategies"`
}

// PlannerConfig selects how plans are generated and revised.
type PlannerConfig struct {
	// Kind is "llm" (default) or "manifest".
	Kind string `mapstructure:"kind"`

	// ManifestPath is the step manifest CSV used by the manifest planner.
	ManifestPath string `mapstructure:"manifest_path"`
}

// LLMConfig contains the chat completions endpoint settings used by the
// planner and the external-validation judge.
type LLMConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// PassThreshold is the minimum judge score (0..1) that counts as success.
	// Default: 0.7
	PassThreshold float64 `mapstructure:"pass_threshold"`
}

// InvokerConfig selects how step actions are executed.
type InvokerConfig struct {
	// Kind is "shell" (default) or "agent".
	Kind string `mapstructure:"kind"`

	// Shell is the interpreter used for shell actions. Default: "sh".
	Shell string `mapstructure:"shell"`

	// WorkDir is where actions run and where file-exists paths resolve.
	// Empty means the current directory.
	WorkDir string `mapstructure:"work_dir"`

	// TransientExitCodes are exit codes classified as retryable.
	// Default: [75]
	TransientExitCodes []int `mapstructure:"transient_exit_codes"`

	Agent AgentConfig `mapstructure:"agent"`
}

// AgentConfig contains the agent CLI binary settings.
type AgentConfig struct {
	// BinaryPath is the agent executable. Default: "claude".
	BinaryPath string `mapstructure:"binary_path"`

	// Args replaces the default flags placed before the prompt when set.
	Args []string `mapstructure:"args"`

	Model string `mapstructure:"model"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is "info" (default) or "debug".
	Level string `mapstructure:"level"`
}

// DefaultConfig returns a new [Config] with defaults.
func DefaultConfig() *Config {
	return &Config{
		Exec: ExecutionSettings{
			MaxIterations:     10,
			PerStepTimeout:    2 * time.Minute,
			PerStepRetryLimit: 3,
			Backoff: BackoffConfig{
				Initial:    executor.DefaultBackoff.Initial,
				Multiplier: executor.DefaultBackoff.Multiplier,
				Max:        executor.DefaultBackoff.Max,
			},
			InvokeBurst:   1,
			ReverifyLimit: 1,
		},
		Store: store.Config{
			Driver: store.DriverFile,
			Path:   ".workloop/plans",
		},
		Planner: PlannerConfig{
			Kind: PlannerLLM,
		},
		LLM: LLMConfig{
			Endpoint:      llm.DefaultEndpoint,
			Model:         "anthropic/claude-sonnet-4",
			Timeout:       2 * time.Minute,
			PassThreshold: 0.7,
		},
		Invoker: InvokerConfig{
			Kind:               InvokerShell,
			Shell:              "sh",
			TransientExitCodes: append([]int(nil), invoker.DefaultTransientExitCodes...),
			Agent: AgentConfig{
				BinaryPath: "claude",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the settings that cannot be caught later by the component
// that uses them.
func (c *Config) Validate() error {
	if c.Exec.MaxIterations < 1 || c.Exec.MaxIterations > plan.MaxIterationsBound {
		return fmt.Errorf("%w: execution.max_iterations %d outside 1..%d",
			plan.ErrInvalidConfig, c.Exec.MaxIterations, plan.MaxIterationsBound)
	}
	if c.Exec.ReverifyLimit < 0 {
		return fmt.Errorf("%w: execution.reverify_limit must not be negative", plan.ErrInvalidConfig)
	}
	switch strings.ToLower(c.Planner.Kind) {
	case PlannerLLM:
	case PlannerManifest:
		if c.Planner.ManifestPath == "" {
			return fmt.Errorf("%w: planner.manifest_path is required for the manifest planner", plan.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown planner kind %q", plan.ErrInvalidConfig, c.Planner.Kind)
	}
	switch strings.ToLower(c.Invoker.Kind) {
	case InvokerShell, InvokerAgent:
	default:
		return fmt.Errorf("%w: unknown invoker kind %q", plan.ErrInvalidConfig, c.Invoker.Kind)
	}
	if c.LLM.PassThreshold < 0 || c.LLM.PassThreshold > 1 {
		return fmt.Errorf("%w: llm.pass_threshold %.2f outside 0..1", plan.ErrInvalidConfig, c.LLM.PassThreshold)
	}
	return nil
}

// Execution converts the execution and verification sections into the
// settings a new plan is started with. The strategy is left empty when no
// default strategies are configured.
func (c *Config) Execution() (plan.ExecutionConfig, error) {
	cfg := plan.ExecutionConfig{
		MaxIterations:     c.Exec.MaxIterations,
		PerStepTimeout:    c.Exec.PerStepTimeout,
		PerStepRetryLimit: c.Exec.PerStepRetryLimit,
		WorkerPoolSize:    c.Exec.WorkerPoolSize,
	}
	if len(c.Verification.Strategies) > 0 {
		s, err := plan.ParseStrategies(c.Verification.Strategies)
		if err != nil {
			return plan.ExecutionConfig{}, fmt.Errorf("verification.strategies: %w", err)
		}
		cfg.Strategy = s
	}
	return cfg, nil
}

// Backoff returns the retry delay schedule for the step executor.
func (c *Config) Backoff() executor.Backoff {
	return executor.Backoff{
		Initial:    c.Exec.Backoff.Initial,
		Multiplier: c.Exec.Backoff.Multiplier,
		Max:        c.Exec.Backoff.Max,
	}
}

// Debug reports whether debug logging is configured.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}
