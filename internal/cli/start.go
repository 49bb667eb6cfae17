package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workloop/internal/plan"
)

// execFlags are the per-plan settings accepted by start and run.
type execFlags struct {
	maxIterations int
	strategies    []string
	parent        string
	timeout       time.Duration
	retries       int
	workers       int
}

func addExecutionFlags(cmd *cobra.Command, f *execFlags) {
	flags := cmd.Flags()
	flags.IntVar(&f.maxIterations, "max-iterations", 0, "Iteration budget for the plan (1-50, default from config)")
	flags.StringArrayVar(&f.strategies, "strategy", nil,
		`Verification strategy, repeatable (all must pass):
  file-exists=a.txt,b.txt   command=go test ./...
  command:1=<cmd>           pattern=<regexp>
  external=<criteria for the judge>`)
	flags.StringVar(&f.parent, "parent", "", "ID of the plan that spawned this one")
	flags.DurationVar(&f.timeout, "timeout", 0, "Per-attempt step timeout (default from config)")
	flags.IntVar(&f.retries, "retries", 0, "Total attempts per step (default from config)")
	flags.IntVar(&f.workers, "workers", -1, "Concurrent steps per cycle, 0 for unbounded (default from config)")
}

// executionConfig overlays the flags that were set on the configured defaults.
func (a *App) executionConfig(f *execFlags) (plan.ExecutionConfig, error) {
	cfg, err := a.Config.Execution()
	if err != nil {
		return plan.ExecutionConfig{}, err
	}
	if f.maxIterations != 0 {
		cfg.MaxIterations = f.maxIterations
	}
	if len(f.strategies) > 0 {
		s, err := plan.ParseStrategies(f.strategies)
		if err != nil {
			return plan.ExecutionConfig{}, err
		}
		cfg.Strategy = s
	}
	if f.timeout != 0 {
		cfg.PerStepTimeout = f.timeout
	}
	if f.retries != 0 {
		cfg.PerStepRetryLimit = f.retries
	}
	if f.workers >= 0 {
		cfg.WorkerPoolSize = f.workers
	}
	cfg.ParentPlan = f.parent
	return cfg, nil
}

func newStartCommand(app *App) *cobra.Command {
	var f execFlags

	cmd := &cobra.Command{
		Use:   "start <goal>",
		Short: "Generate a plan for a goal",
		Long: `Ask the planner for the steps that achieve the goal and register the plan.
Nothing is executed until continue or run is called.

Example:
  workloop start "create a.txt, b.txt and c.txt" --strategy file-exists=a.txt,b.txt,c.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.executionConfig(&f)
			if err != nil {
				return err
			}
			p, err := app.Engine.Start(cmd.Context(), strings.Join(args, " "), cfg)
			if p == nil {
				return err
			}
			app.Printer.PlanStarted(p)
			// The plan exists in memory even when persisting it failed.
			return err
		},
	}
	addExecutionFlags(cmd, &f)
	return cmd
}
