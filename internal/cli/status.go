package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"workloop/internal/plan"
)

func newStatusCommand(app *App) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <plan-id>",
		Short: "Show a plan",
		Long: `Show the plan's status, iteration, steps, last verdict and revision history.
Use --format yaml or --format json for the full snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.Engine.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch format {
			case "", "text":
				app.Printer.Plan(p)
				return nil
			case "yaml":
				data, err := yaml.Marshal(p)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			case "json":
				data, err := json.MarshalIndent(p, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			default:
				return fmt.Errorf("unknown format %q (want text, yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, yaml or json")
	return cmd
}

func newListCommand(app *App) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List plans",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !plan.Status(status).IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			plans, err := app.Engine.List(cmd.Context())
			if err != nil {
				return err
			}
			if status != "" {
				filtered := plans[:0]
				for _, p := range plans {
					if string(p.Status) == status {
						filtered = append(filtered, p)
					}
				}
				plans = filtered
			}
			app.Printer.PlanList(plans)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only list plans in this status")
	return cmd
}

func newVerifyCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <plan-id>",
		Short: "Evaluate a plan's verification strategy",
		Long: `Evaluate the plan's verification strategy now and print the verdict. The plan
is not changed. Exits with code 2 when verification does not pass.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := app.Engine.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Printer.Verdict(v)
			if !v.Passed() {
				return NewExitError(exitUnresolved)
			}
			return nil
		},
	}
}

func newExecStepCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "exec-step <plan-id> <step-id>",
		Short: "Execute a single step",
		Long: `Execute one waiting step whose dependencies are done, outside the normal
cycle. The iteration counter is not advanced and no re-planning happens.
Works on active and paused plans. Exits with code 2 when the step fails.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Engine.ExecuteStep(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			app.Printer.Step(args[0], s)
			if s.Status != plan.StepDone {
				return NewExitError(exitUnresolved)
			}
			return nil
		},
	}
}
