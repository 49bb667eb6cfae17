// Package cli implements the workloop command surface using Cobra.
//
// Every command operates on plans held by the orchestrator. Plans are
// persisted by the configured store, so a plan started by one invocation can
// be continued, inspected or stopped by later ones.
//
// Key types:
//   - [App] holds the assembled dependencies shared by all commands
//   - [Engine] is the orchestrator surface the commands use
//   - [ExitError] carries a non-zero exit code without calling os.Exit
//   - [ExecuteResult] is returned by [RunWithConfig] for testable execution
//
// Commands:
//
//	start <goal>                 generate a plan for a goal
//	continue <plan-id>           run one execution cycle
//	run [plan-id] [--goal ...]   start or continue until the plan is terminal
//	status <plan-id>             show a plan
//	list                         list known plans
//	pause|resume|stop <plan-id>  lifecycle control
//	exec-step <plan-id> <step>   run a single ready step
//	verify <plan-id>             evaluate the verification strategy
//	rm <plan-id>                 delete a terminal plan
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohanthewiz/logger"
	"github.com/spf13/cobra"

	"workloop/internal/config"
	"workloop/internal/orchestrator"
	"workloop/internal/output"
	"workloop/internal/plan"
)

// Engine is the orchestrator surface used by the commands.
type Engine interface {
	Start(ctx context.Context, goal string, cfg plan.ExecutionConfig) (*plan.Plan, error)
	Continue(ctx context.Context, id string) (orchestrator.IterationReport, error)
	Run(ctx context.Context, id string, onReport func(orchestrator.IterationReport)) (orchestrator.IterationReport, error)
	Status(ctx context.Context, id string) (*plan.Plan, error)
	List(ctx context.Context) ([]*plan.Plan, error)
	Pause(ctx context.Context, id string) (*plan.Plan, error)
	Resume(ctx context.Context, id string) (*plan.Plan, error)
	Stop(ctx context.Context, id string) (*plan.Plan, error)
	ExecuteStep(ctx context.Context, id, stepID string) (plan.Step, error)
	Verify(ctx context.Context, id string) (plan.Verdict, error)
	Delete(ctx context.Context, id string) error
	SetProgressCallback(cb orchestrator.ProgressCallback)
}

// App holds the dependencies shared by all commands.
type App struct {
	Config  *config.Config
	Engine  Engine
	Printer output.Printer

	// closers release resources such as database handles when the app exits.
	closers []io.Closer
}

// Close releases resources opened by [NewApp].
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewRootCommand creates the root command with all subcommands attached.
func NewRootCommand(app *App) *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "workloop",
		Short: "Plan, execute, verify and re-plan multi-step goals",
		Long: `workloop turns a goal into a plan of dependent steps, executes ready steps
concurrently, verifies the goal after each cycle and revises the plan when
steps fail or verification does not pass.

Plans persist between invocations, so a plan can be started in one command
and continued, paused or inspected later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug || app.Config.Debug() {
				logger.SetLogLevel(logger.StrLevelDebug)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newStartCommand(app),
		newContinueCommand(app),
		newRunCommand(app),
		newStatusCommand(app),
		newListCommand(app),
		newPauseCommand(app),
		newResumeCommand(app),
		newStopCommand(app),
		newExecStepCommand(app),
		newVerifyCommand(app),
		newRemoveCommand(app),
	)
	return rootCmd
}

// ExecuteResult is the outcome of running the CLI.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// Execute loads the configuration, runs the CLI and exits the process with
// the resulting code.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := RunWithConfig(ctx, cfg, os.Args[1:])
	stop()
	os.Exit(result.ExitCode)
}

// RunWithConfig assembles the app from cfg and runs the command line given by args.
func RunWithConfig(ctx context.Context, cfg *config.Config, args []string) ExecuteResult {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.LogErr(err, "failed to close resources")
		}
	}()

	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)
	return runCommand(ctx, rootCmd)
}

func runCommand(ctx context.Context, cmd *cobra.Command) ExecuteResult {
	if err := cmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{ExitCode: 0}
}
