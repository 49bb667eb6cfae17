package cli

import (
	"context"

	"github.com/spf13/cobra"

	"workloop/internal/plan"
)

// newLifecycleCommand builds the pause, resume and stop commands, which only
// differ in the orchestrator call they make.
func newLifecycleCommand(app *App, use, short, long string, call func(Engine, context.Context, string) (*plan.Plan, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <plan-id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := call(app.Engine, cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Printer.Message("Plan %s is %s", p.ID, p.Status)
			return nil
		},
	}
}

func newPauseCommand(app *App) *cobra.Command {
	return newLifecycleCommand(app, "pause", "Pause an active plan",
		`Pause the plan. Steps already running finish, no new steps are started, and
continue or run do nothing until the plan is resumed. Single steps can still be
executed with exec-step.`,
		Engine.Pause)
}

func newResumeCommand(app *App) *cobra.Command {
	return newLifecycleCommand(app, "resume", "Resume a paused plan",
		`Make a paused plan active again.`,
		Engine.Resume)
}

func newStopCommand(app *App) *cobra.Command {
	return newLifecycleCommand(app, "stop", "Stop a plan",
		`Stop the plan for good. A cycle in progress is cancelled, running steps are
marked failed and waiting steps are skipped.`,
		Engine.Stop)
}

func newRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <plan-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a finished plan",
		Long:    `Remove a completed, failed or stopped plan from the store.`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Engine.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			app.Printer.Message("Deleted plan %s", args[0])
			return nil
		},
	}
}
