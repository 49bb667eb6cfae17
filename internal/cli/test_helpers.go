package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workloop/internal/config"
	"workloop/internal/executor"
	"workloop/internal/invoker"
	"workloop/internal/orchestrator"
	"workloop/internal/output"
	"workloop/internal/plan"
	"workloop/internal/planner"
	"workloop/internal/replan"
	"workloop/internal/store"
	"workloop/internal/verify"
)

// testEnv is an App wired around a mock planner, the real shell invoker and a
// file store, all rooted in temporary directories.
type testEnv struct {
	app      *App
	out      *bytes.Buffer
	planner  *planner.Mock
	workDir  string
	storeDir string
}

func newTestEnv(t *testing.T, steps []plan.Step, revisions ...plan.PlanDelta) *testEnv {
	t.Helper()
	env := &testEnv{
		planner:  &planner.Mock{Steps: steps, Revisions: revisions},
		workDir:  t.TempDir(),
		storeDir: t.TempDir(),
	}
	env.app = env.newApp(t)
	return env
}

// newApp builds a fresh App over the same store and work dir, as a second
// workloop invocation would.
func (env *testEnv) newApp(t *testing.T) *App {
	t.Helper()
	st, err := store.NewFile(env.storeDir)
	require.NoError(t, err)

	shell := invoker.NewShell("sh", env.workDir, nil)
	ex := executor.New(shell)
	ex.SetBackoff(executor.Backoff{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond})
	ver := verify.New(env.workDir, shell, nil)
	rp := replan.New(env.planner)
	rp.SetVerifier(ver, 1)

	cfg := config.DefaultConfig()
	cfg.Exec.PerStepTimeout = 10 * time.Second

	if env.out == nil {
		env.out = &bytes.Buffer{}
	}
	return &App{
		Config:  cfg,
		Engine:  orchestrator.New(env.planner, ex, ver, rp, st),
		Printer: output.NewPrinterWithWriter(env.out),
	}
}

// execute runs one command line against app and returns the result and
// everything printed during it.
func (env *testEnv) execute(app *App, args ...string) (ExecuteResult, string) {
	env.out.Reset()
	rootCmd := NewRootCommand(app)
	rootCmd.SetOut(env.out)
	rootCmd.SetErr(env.out)
	rootCmd.SetArgs(args)
	res := runCommand(context.Background(), rootCmd)
	return res, env.out.String()
}

// onlyPlan returns the single plan known to the app.
func (env *testEnv) onlyPlan(t *testing.T) *plan.Plan {
	t.Helper()
	plans, err := env.app.Engine.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	return plans[0]
}
