package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"workloop/internal/orchestrator"
	"workloop/internal/plan"
)

func newContinueCommand(app *App) *cobra.Command {
	var progress bool

	cmd := &cobra.Command{
		Use:   "continue <plan-id>",
		Short: "Run one execution cycle",
		Long: `Run one cycle of the plan: re-plan if earlier steps failed or verification
did not pass, execute every ready step, then verify the goal once nothing is
left to run. Continuing a paused or finished plan prints it and does nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if progress {
				app.Engine.SetProgressCallback(app.Printer.StepProgress)
			}
			rep, err := app.Engine.Continue(cmd.Context(), args[0])
			if rep.Plan != nil {
				app.Printer.Iteration(rep)
			}
			return app.cycleResult(rep, err)
		},
	}
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "Print step status changes as they happen")
	return cmd
}

func newRunCommand(app *App) *cobra.Command {
	var (
		f        execFlags
		goal     string
		progress bool
	)

	cmd := &cobra.Command{
		Use:   "run [plan-id]",
		Short: "Run a plan until it completes or fails",
		Long: `Continue the plan cycle after cycle until it is completed, failed or stopped,
printing a report for every iteration. With --goal a new plan is started first.

Examples:
  workloop run 3f1c...
  workloop run --goal "build and test the service" --strategy "command=make test"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if progress {
				app.Engine.SetProgressCallback(app.Printer.StepProgress)
			}

			var id string
			switch {
			case goal != "" && len(args) == 1:
				return fmt.Errorf("give either a plan id or --goal, not both")
			case goal != "":
				cfg, err := app.executionConfig(&f)
				if err != nil {
					return err
				}
				p, err := app.Engine.Start(ctx, goal, cfg)
				if err != nil {
					return err
				}
				app.Printer.PlanStarted(p)
				id = p.ID
			case len(args) == 1:
				id = args[0]
			default:
				return fmt.Errorf("a plan id or --goal is required")
			}

			rep, err := app.Engine.Run(ctx, id, app.Printer.Iteration)
			if err != nil && rep.Plan != nil && !errors.Is(err, context.Canceled) {
				app.Printer.Iteration(rep)
			}
			if errors.Is(err, context.Canceled) {
				app.Printer.Message("Interrupted. Resume with: workloop run %s", id)
			}
			return app.cycleResult(rep, err)
		},
	}
	addExecutionFlags(cmd, &f)
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "Start a new plan for this goal before running")
	cmd.Flags().BoolVarP(&progress, "progress", "p", false, "Print step status changes as they happen")
	return cmd
}

// cycleResult maps the outcome of continue or run to the command's error.
// A plan that ended without completing exits with code 2 once its report has
// been printed.
func (a *App) cycleResult(rep orchestrator.IterationReport, err error) error {
	if errors.Is(err, plan.ErrNoRemediation) || errors.Is(err, plan.ErrMaxIterationsExceeded) {
		a.Printer.Message("Plan %s failed: %v", rep.PlanID, err)
		return NewExitError(exitUnresolved)
	}
	if err != nil {
		return err
	}
	if rep.NoOp {
		return nil
	}
	if rep.Plan != nil && rep.Plan.IsTerminal() && rep.Status != plan.StatusCompleted {
		return NewExitError(exitUnresolved)
	}
	return nil
}
