package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workloop/internal/executor"
	"workloop/internal/invoker"
	"workloop/internal/plan"
	"workloop/internal/planner"
	"workloop/internal/replan"
	"workloop/internal/store"
	"workloop/internal/verify"
)

type harness struct {
	orch    *Orchestrator
	inv     *invoker.Mock
	planner *planner.Mock
	store   store.Store
	dir     string
}

// newHarness wires an orchestrator around the mock invoker and planner. Pass
// a non-nil inv to run steps through a different invoker.
func newHarness(t *testing.T, steps []plan.Step, inv invoker.Invoker, revisions ...plan.PlanDelta) *harness {
	t.Helper()
	h := &harness{
		inv:     invoker.NewMock(),
		planner: &planner.Mock{Steps: steps, Revisions: revisions},
		store:   store.NewMemory(),
		dir:     t.TempDir(),
	}
	if inv == nil {
		inv = h.inv
	}
	ex := executor.New(inv)
	ex.SetBackoff(executor.Backoff{Initial: time.Millisecond, Multiplier: 1, Max: time.Millisecond})
	ver := verify.New(h.dir, &verify.MockRunner{}, nil)
	rp := replan.New(h.planner)
	rp.SetVerifier(ver, 1)
	h.orch = New(h.planner, ex, ver, rp, h.store)
	return h
}

func execConfig(maxIterations int, strategy plan.Strategy) plan.ExecutionConfig {
	return plan.ExecutionConfig{
		MaxIterations:     maxIterations,
		Strategy:          strategy,
		PerStepTimeout:    5 * time.Second,
		PerStepRetryLimit: 3,
	}
}

// chain builds steps s1..sN where each depends on the previous one.
func chain(actions ...string) []plan.Step {
	steps := make([]plan.Step, len(actions))
	for i, a := range actions {
		steps[i] = plan.Step{ID: fmt.Sprintf("s%d", i+1), Action: a}
		if i > 0 {
			steps[i].DependsOn = []string{steps[i-1].ID}
		}
	}
	return steps
}

func TestContinue_ThreeFilesCompleteInOneCycle(t *testing.T) {
	dir := t.TempDir()
	steps := []plan.Step{
		{Description: "create a", Action: "@write-file(a.txt, alpha)"},
		{Description: "create b", Action: "@write-file(b.txt, beta)"},
		{Description: "create c", Action: "@write-file(c.txt, gamma)"},
	}
	h := newHarness(t, steps, invoker.NewShell("sh", dir, nil))
	h.orch.verifier = verify.New(dir, nil, nil)

	p, err := h.orch.Start(context.Background(), "create 3 files", execConfig(5, plan.FileExists("a.txt", "b.txt", "c.txt")))
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{p.Steps[0].ID, p.Steps[1].ID, p.Steps[2].ID})

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, plan.StatusCompleted, rep.Status)
	assert.Equal(t, plan.ReasonVerified, rep.Reason)
	assert.Equal(t, 1, rep.Iteration)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3"}, rep.Done)
	require.NotNil(t, rep.Verdict)
	assert.Equal(t, plan.OutcomeSuccess, rep.Verdict.Outcome)

	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestContinue_TransientExhaustionEndsInNoRemediation(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "flaky"}}, nil)
	h.inv.On("flaky", invoker.MockResponse{Err: invoker.NewTransient(errors.New("service unavailable"))})

	p, err := h.orch.Start(context.Background(), "call flaky service", execConfig(5, plan.FileExists("never")))
	require.NoError(t, err)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.ErrorIs(t, err, plan.ErrNoRemediation)
	assert.Equal(t, []string{"s1"}, rep.Failed)
	s1 := rep.Plan.Step("s1")
	assert.Equal(t, plan.StepFailed, s1.Status)
	assert.Equal(t, 3, s1.Attempts)
	require.NotNil(t, s1.Error)
	assert.Equal(t, plan.ErrorTransient, s1.Error.Kind)
	assert.Equal(t, 3, h.inv.CallCount("flaky"))
	assert.Nil(t, rep.Verdict, "no verification while failures are unhandled")

	assert.True(t, rep.Replanned)
	assert.Equal(t, 1, h.planner.ReviseCalls())
	assert.Equal(t, plan.FailureStep, h.planner.Failures[0].Kind)
	assert.Equal(t, plan.StatusFailed, rep.Status)
	assert.Equal(t, plan.ReasonNoRemediation, rep.Reason)
	assert.Equal(t, 1, rep.Iteration)
	require.NotNil(t, rep.Change)
	assert.Equal(t, 1, rep.Change.Iteration)
}

func TestContinue_LastIterationStillRemediates(t *testing.T) {
	tests := []struct {
		name     string
		script   []invoker.MockResponse
		wantKind plan.FailureKind
	}{
		{
			name:     "step exhausts its retries",
			script:   []invoker.MockResponse{{Err: invoker.NewTransient(errors.New("service unavailable"))}},
			wantKind: plan.FailureStep,
		},
		{
			name:     "verification fails",
			wantKind: plan.FailureVerification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []plan.Step{{ID: "s1", Action: "work"}}, nil)
			h.inv.On("work", tt.script...)

			p, err := h.orch.Start(context.Background(), "single shot", execConfig(1, plan.FileExists("never")))
			require.NoError(t, err)

			rep, err := h.orch.Continue(context.Background(), p.ID)
			require.ErrorIs(t, err, plan.ErrNoRemediation)
			assert.NotErrorIs(t, err, plan.ErrMaxIterationsExceeded)
			assert.Equal(t, plan.StatusFailed, rep.Status)
			assert.Equal(t, plan.ReasonNoRemediation, rep.Reason)
			assert.Equal(t, 1, rep.Iteration)
			require.Equal(t, 1, h.planner.ReviseCalls())
			assert.Equal(t, tt.wantKind, h.planner.Failures[0].Kind)
		})
	}
}

func TestContinue_RejectedRevisionsSpendIterations(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "broken"}}, nil)
	h.inv.On("broken", invoker.MockResponse{Err: invoker.NewPermanent(errors.New("exit 1"))})
	h.planner.ReviseErr = errors.New("model offline")

	p, err := h.orch.Start(context.Background(), "planner keeps failing", execConfig(2, plan.FileExists("x")))
	require.NoError(t, err)

	for want := 1; want <= 2; want++ {
		rep, err := h.orch.Continue(context.Background(), p.ID)
		require.ErrorIs(t, err, plan.ErrPlanner)
		assert.Equal(t, want, rep.Iteration)
		assert.Equal(t, plan.StatusActive, rep.Status)
	}

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.ErrorIs(t, err, plan.ErrMaxIterationsExceeded)
	assert.Equal(t, plan.StatusFailed, rep.Status)
	assert.Equal(t, 2, rep.Iteration)
	assert.Equal(t, 2, h.planner.ReviseCalls())
}

func TestContinue_MaxIterationsExceeded(t *testing.T) {
	h := newHarness(t, chain("first", "second"), nil)

	p, err := h.orch.Start(context.Background(), "two dependent steps", execConfig(1, plan.OutputPattern("second")))
	require.NoError(t, err)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, rep.Dispatched)
	assert.Equal(t, 1, rep.Iteration)
	assert.Equal(t, plan.StatusActive, rep.Status)

	rep, err = h.orch.Continue(context.Background(), p.ID)
	require.ErrorIs(t, err, plan.ErrMaxIterationsExceeded)
	assert.Equal(t, plan.StatusFailed, rep.Status)
	assert.Equal(t, plan.ReasonMaxIterationsExceeded, rep.Reason)
	assert.Equal(t, 1, rep.Iteration)
	assert.Equal(t, plan.StepWaiting, rep.Plan.Step("s2").Status)

	stored, err := h.store.Load(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, stored.Status)
}

func TestContinue_IterationNeverExceedsMax(t *testing.T) {
	var revisions []plan.PlanDelta
	for i := 0; i < 10; i++ {
		revisions = append(revisions, plan.PlanDelta{Add: []plan.Step{{Action: "broken"}}})
	}
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "broken"}}, nil, revisions...)
	h.inv.On("broken", invoker.MockResponse{Err: invoker.NewPermanent(errors.New("exit 1"))})

	p, err := h.orch.Start(context.Background(), "never works", execConfig(3, plan.FileExists("x")))
	require.NoError(t, err)

	var seen []int
	rep, err := h.orch.Run(context.Background(), p.ID, func(r IterationReport) {
		seen = append(seen, r.Iteration)
		assert.LessOrEqual(t, r.Iteration, 3)
	})
	require.ErrorIs(t, err, plan.ErrMaxIterationsExceeded)
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 3, rep.Iteration)
	assert.Equal(t, plan.StatusFailed, rep.Status)
	assert.Len(t, rep.Plan.Changes, 3)
}

func TestContinue_ParallelDispatch(t *testing.T) {
	const delay = 200 * time.Millisecond
	steps := []plan.Step{{ID: "a", Action: "slow-a"}, {ID: "b", Action: "slow-b"}}

	tests := []struct {
		name     string
		pool     int
		parallel bool
	}{
		{name: "unbounded pool", pool: 0, parallel: true},
		{name: "pool of two", pool: 2, parallel: true},
		{name: "pool of one", pool: 1, parallel: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, steps, nil)
			h.inv.On("slow-a", invoker.MockResponse{Output: "a", Delay: delay})
			h.inv.On("slow-b", invoker.MockResponse{Output: "b", Delay: delay})

			cfg := execConfig(2, plan.OutputPattern("a"))
			cfg.WorkerPoolSize = tt.pool
			p, err := h.orch.Start(context.Background(), "two slow steps", cfg)
			require.NoError(t, err)

			start := time.Now()
			rep, err := h.orch.Continue(context.Background(), p.ID)
			elapsed := time.Since(start)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"a", "b"}, rep.Done)

			if tt.parallel {
				assert.Less(t, elapsed, 2*delay)
			} else {
				assert.GreaterOrEqual(t, elapsed, 2*delay)
			}
		})
	}
}

func TestContinue_TerminalPlanIsIdempotent(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
	p, err := h.orch.Start(context.Background(), "echo", execConfig(3, plan.OutputPattern("echo")))
	require.NoError(t, err)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, plan.StatusCompleted, rep.Status)

	before, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)

	again, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, again.NoOp)
	assert.Equal(t, before, again.Plan)
	assert.Equal(t, 1, h.inv.CallCount("echo"))
}

func TestPauseResume_RoundTrip(t *testing.T) {
	h := newHarness(t, chain("one", "two", "three"), nil)
	p, err := h.orch.Start(context.Background(), "three steps", execConfig(5, plan.OutputPattern("three")))
	require.NoError(t, err)
	_, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)

	before, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)

	paused, err := h.orch.Pause(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusPaused, paused.Status)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, rep.NoOp)
	require.NotNil(t, rep.Plan)
	assert.Equal(t, plan.StatusPaused, rep.Plan.Status)
	assert.Equal(t, before.CurrentIteration, rep.Iteration)
	assert.Zero(t, h.inv.CallCount("two"))

	_, err = h.orch.Pause(context.Background(), p.ID)
	assert.ErrorIs(t, err, plan.ErrInvalidTransition)

	resumed, err := h.orch.Resume(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusActive, resumed.Status)
	assert.Equal(t, before.CurrentIteration, resumed.CurrentIteration)
	require.Len(t, resumed.Steps, len(before.Steps))
	for i := range before.Steps {
		assert.Equal(t, before.Steps[i].Status, resumed.Steps[i].Status, before.Steps[i].ID)
	}
}

func TestStop_SkipsWaitingSteps(t *testing.T) {
	h := newHarness(t, chain("one", "two", "three"), nil)
	p, err := h.orch.Start(context.Background(), "three steps", execConfig(5, plan.OutputPattern("three")))
	require.NoError(t, err)
	_, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)

	stopped, err := h.orch.Stop(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusStopped, stopped.Status)
	assert.Equal(t, plan.ReasonStopped, stopped.Reason)
	assert.Equal(t, plan.StepDone, stopped.Step("s1").Status)
	assert.Equal(t, plan.StepSkipped, stopped.Step("s2").Status)
	assert.Equal(t, plan.StepSkipped, stopped.Step("s3").Status)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, rep.NoOp)
	assert.Equal(t, 0, h.inv.CallCount("two"))

	_, err = h.orch.Stop(context.Background(), p.ID)
	assert.ErrorIs(t, err, plan.ErrInvalidTransition)
}

func TestStop_CancelsInFlightCycle(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "long"}, {ID: "s2", Action: "after", DependsOn: []string{"s1"}}}, nil)
	h.inv.On("long", invoker.MockResponse{Delay: 10 * time.Second})

	p, err := h.orch.Start(context.Background(), "long running", execConfig(5, plan.FileExists("x")))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var contErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, contErr = h.orch.Continue(context.Background(), p.ID)
	}()

	require.Eventually(t, func() bool {
		s, err := h.orch.Status(context.Background(), p.ID)
		return err == nil && s.Step("s1").Status == plan.StepRunning
	}, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	stopped, err := h.orch.Stop(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	wg.Wait()
	assert.NoError(t, contErr)

	assert.Equal(t, plan.StatusStopped, stopped.Status)
	assert.Equal(t, plan.StepFailed, stopped.Step("s1").Status)
	assert.Equal(t, plan.ErrorCancelled, stopped.Step("s1").Error.Kind)
	assert.Equal(t, plan.StepSkipped, stopped.Step("s2").Status)
	assert.Zero(t, h.planner.ReviseCalls())
}

func TestHaltMidCycle_QueuedStepsNeverStart(t *testing.T) {
	tests := []struct {
		name        string
		delay       time.Duration
		halt        func(o *Orchestrator, id string) (*plan.Plan, error)
		wantStatus  plan.Status
		wantRunning plan.StepStatus
		wantQueued  plan.StepStatus
	}{
		{
			name:  "stop",
			delay: 10 * time.Second,
			halt: func(o *Orchestrator, id string) (*plan.Plan, error) {
				return o.Stop(context.Background(), id)
			},
			wantStatus:  plan.StatusStopped,
			wantRunning: plan.StepFailed,
			wantQueued:  plan.StepSkipped,
		},
		{
			name:  "pause",
			delay: 300 * time.Millisecond,
			halt: func(o *Orchestrator, id string) (*plan.Plan, error) {
				return o.Pause(context.Background(), id)
			},
			wantStatus:  plan.StatusPaused,
			wantRunning: plan.StepDone,
			wantQueued:  plan.StepWaiting,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := []plan.Step{{ID: "a", Action: "slow"}, {ID: "b", Action: "quick-b"}, {ID: "c", Action: "quick-c"}}
			h := newHarness(t, steps, nil)
			h.inv.On("slow", invoker.MockResponse{Output: "a", Delay: tt.delay})

			cfg := execConfig(5, plan.OutputPattern("a"))
			cfg.WorkerPoolSize = 1
			p, err := h.orch.Start(context.Background(), "one worker", cfg)
			require.NoError(t, err)

			var wg sync.WaitGroup
			var rep IterationReport
			var contErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				rep, contErr = h.orch.Continue(context.Background(), p.ID)
			}()

			require.Eventually(t, func() bool {
				s, err := h.orch.Status(context.Background(), p.ID)
				return err == nil && s.Step("a").Status == plan.StepRunning
			}, 2*time.Second, 5*time.Millisecond)

			start := time.Now()
			halted, err := tt.halt(h.orch, p.ID)
			require.NoError(t, err)
			assert.Less(t, time.Since(start), tt.delay/2, "halting does not wait for the running step")
			assert.Equal(t, tt.wantStatus, halted.Status)
			wg.Wait()
			require.NoError(t, contErr)

			assert.Equal(t, []string{"a"}, rep.Dispatched)
			assert.False(t, rep.Replanned)
			final, err := h.orch.Status(context.Background(), p.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, final.Status)
			assert.Equal(t, tt.wantRunning, final.Step("a").Status)
			for _, id := range []string{"b", "c"} {
				s := final.Step(id)
				assert.Equal(t, tt.wantQueued, s.Status, id)
				assert.Zero(t, s.Attempts, id)
				assert.Nil(t, s.Error, id)
			}
			assert.Zero(t, h.inv.CallCount("quick-b"))
			assert.Zero(t, h.inv.CallCount("quick-c"))
			assert.Zero(t, h.planner.ReviseCalls())
		})
	}
}

func TestPause_ResumeRunsQueuedSteps(t *testing.T) {
	steps := []plan.Step{{ID: "a", Action: "slow"}, {ID: "b", Action: "quick-b"}}
	h := newHarness(t, steps, nil)
	h.inv.On("slow", invoker.MockResponse{Output: "a", Delay: 200 * time.Millisecond})

	cfg := execConfig(5, plan.OutputPattern("a"))
	cfg.WorkerPoolSize = 1
	p, err := h.orch.Start(context.Background(), "pause then resume", cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.orch.Continue(context.Background(), p.ID)
	}()
	require.Eventually(t, func() bool {
		s, err := h.orch.Status(context.Background(), p.ID)
		return err == nil && s.Step("a").Status == plan.StepRunning
	}, 2*time.Second, 5*time.Millisecond)
	_, err = h.orch.Pause(context.Background(), p.ID)
	require.NoError(t, err)
	<-done

	_, err = h.orch.Resume(context.Background(), p.ID)
	require.NoError(t, err)
	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, rep.Dispatched)
	assert.Equal(t, plan.StatusCompleted, rep.Status)
	assert.Equal(t, 2, rep.Iteration)
	assert.Equal(t, 1, h.inv.CallCount("quick-b"))
}

func TestContinue_ReplacementRewiresDependants(t *testing.T) {
	steps := []plan.Step{
		{ID: "s1", Action: "compile"},
		{ID: "s2", Action: "test", DependsOn: []string{"s1"}},
	}
	h := newHarness(t, steps, nil, plan.PlanDelta{
		Add:    []plan.Step{{ID: "fix", Action: "fix-compile", Replaces: "s1"}},
		Reason: "patch the build",
	})
	h.inv.On("compile", invoker.MockResponse{Err: invoker.NewPermanent(errors.New("syntax error"))})

	p, err := h.orch.Start(context.Background(), "build and test", execConfig(5, plan.OutputPattern("^test$")))
	require.NoError(t, err)

	rep, err := h.orch.Run(context.Background(), p.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, rep.Status)
	assert.Equal(t, 3, rep.Iteration)

	final := rep.Plan
	assert.Equal(t, plan.StepFailed, final.Step("s1").Status)
	assert.Equal(t, []string{"fix"}, final.Step("s1").SupersededBy)
	assert.Equal(t, []string{"fix"}, final.Step("s2").DependsOn)
	assert.Equal(t, plan.StepDone, final.Step("s2").Status)
	require.Len(t, final.Changes, 1)
	assert.Equal(t, []string{"fix"}, final.Changes[0].Added)
	assert.Equal(t, 1, h.inv.CallCount("compile"), "permanent errors are not retried")
}

func TestContinue_VerificationFailureTriggersReplan(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "@write-file(draft.txt, wip)"}}, invoker.NewShell("sh", dir, nil),
		plan.PlanDelta{Add: []plan.Step{{ID: "s2", Action: "@write-file(final.txt, done)"}}})
	ver := verify.New(dir, nil, nil)
	h.orch.verifier = ver
	rp := replan.New(h.planner)
	rp.SetVerifier(ver, 1)
	h.orch.replanner = rp

	p, err := h.orch.Start(context.Background(), "write final.txt", execConfig(5, plan.FileExists("final.txt")))
	require.NoError(t, err)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, rep.Verdict)
	assert.Equal(t, plan.OutcomeFailure, rep.Verdict.Outcome)
	assert.True(t, rep.Replanned, "a failed verdict is remediated in the same cycle")
	require.NotNil(t, rep.Change)
	assert.Equal(t, []string{"s2"}, rep.Change.Added)
	assert.Equal(t, 1, rep.Iteration)
	assert.Equal(t, plan.StatusActive, rep.Status)
	require.Equal(t, 1, h.planner.ReviseCalls())
	assert.Equal(t, plan.FailureVerification, h.planner.Failures[0].Kind)

	rep, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, rep.Replanned)
	assert.Equal(t, []string{"s2"}, rep.Dispatched)
	assert.Equal(t, plan.StatusCompleted, rep.Status)
	assert.Equal(t, 2, rep.Iteration)
	assert.Equal(t, 1, h.planner.ReviseCalls())
}

// flakyJudge errors for its first failures calls and passes afterwards.
type flakyJudge struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (j *flakyJudge) Judge(ctx context.Context, criteria string, p *plan.Plan) (verify.Judgment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.calls <= j.failures {
		return verify.Judgment{}, errors.New("judge offline")
	}
	return verify.Judgment{Pass: true, Score: 0.9, Reason: "fine"}, nil
}

func TestContinue_InconclusiveVerification(t *testing.T) {
	tests := []struct {
		name       string
		failures   int
		wantStatus plan.Status
		wantErr    error
		wantRevise int
	}{
		{name: "resolved by re-verifying", failures: 1, wantStatus: plan.StatusCompleted},
		{name: "still inconclusive goes to the planner", failures: 10, wantStatus: plan.StatusFailed, wantErr: plan.ErrNoRemediation, wantRevise: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
			judge := &flakyJudge{failures: tt.failures}
			ver := verify.New(h.dir, nil, judge)
			h.orch.verifier = ver
			rp := replan.New(h.planner)
			rp.SetVerifier(ver, 2)
			h.orch.replanner = rp

			p, err := h.orch.Start(context.Background(), "judge me", execConfig(5, plan.ExternalValidation("looks right")))
			require.NoError(t, err)

			rep, err := h.orch.Continue(context.Background(), p.ID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.True(t, rep.Replanned)
			assert.Equal(t, tt.wantStatus, rep.Status)
			assert.Equal(t, 1, rep.Iteration)
			assert.Equal(t, tt.wantRevise, h.planner.ReviseCalls())
			if tt.wantRevise > 0 {
				assert.Equal(t, plan.FailureVerificationInconclusive, h.planner.Failures[0].Kind)
			}
		})
	}
}

func TestStart_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		steps   []plan.Step
		genErr  error
		goal    string
		cfg     plan.ExecutionConfig
		wantErr error
	}{
		{
			name:    "dependency cycle",
			steps:   []plan.Step{{ID: "a", Action: "a", DependsOn: []string{"b"}}, {ID: "b", Action: "b", DependsOn: []string{"a"}}},
			goal:    "loop",
			cfg:     execConfig(3, plan.FileExists("x")),
			wantErr: plan.ErrDependencyCycle,
		},
		{
			name:    "unknown dependency",
			steps:   []plan.Step{{ID: "a", Action: "a", DependsOn: []string{"ghost"}}},
			goal:    "dangling",
			cfg:     execConfig(3, plan.FileExists("x")),
			wantErr: plan.ErrInvalidGraph,
		},
		{
			name:    "planner returns nothing",
			goal:    "empty",
			cfg:     execConfig(3, plan.FileExists("x")),
			wantErr: plan.ErrPlanner,
		},
		{
			name:    "planner error is wrapped",
			steps:   []plan.Step{{Action: "a"}},
			genErr:  errors.New("model offline"),
			goal:    "offline",
			cfg:     execConfig(3, plan.FileExists("x")),
			wantErr: plan.ErrPlanner,
		},
		{
			name:    "iterations out of range",
			steps:   []plan.Step{{Action: "a"}},
			goal:    "too many",
			cfg:     execConfig(plan.MaxIterationsBound+1, plan.FileExists("x")),
			wantErr: plan.ErrInvalidConfig,
		},
		{
			name:    "empty goal",
			steps:   []plan.Step{{Action: "a"}},
			goal:    "  ",
			cfg:     execConfig(3, plan.FileExists("x")),
			wantErr: plan.ErrInvalidConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.steps, nil)
			h.planner.GenerateErr = tt.genErr

			p, err := h.orch.Start(context.Background(), tt.goal, tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, p)

			plans, err := h.orch.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, plans)
		})
	}
}

func TestStart_RecordsSettings(t *testing.T) {
	h := newHarness(t, []plan.Step{{Description: "only step"}}, nil)
	cfg := execConfig(7, plan.FileExists("x"))
	cfg.WorkerPoolSize = 4
	cfg.ParentPlan = "parent-1"

	p, err := h.orch.Start(context.Background(), "settings", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, plan.StatusActive, p.Status)
	assert.Equal(t, "parent-1", p.ParentPlan)
	assert.Equal(t, 0, p.CurrentIteration)
	assert.Equal(t, cfg.MaxIterations, p.ExecutionConfig().MaxIterations)
	assert.Equal(t, 4, p.ExecutionConfig().WorkerPoolSize)
	assert.Equal(t, "only step", p.Steps[0].Action, "description doubles as the action")
	assert.Equal(t, []string{"settings"}, h.planner.Goals)
}

func TestExecuteStep(t *testing.T) {
	h := newHarness(t, chain("one", "two"), nil)
	p, err := h.orch.Start(context.Background(), "manual", execConfig(3, plan.OutputPattern("two")))
	require.NoError(t, err)

	_, err = h.orch.ExecuteStep(context.Background(), p.ID, "s2")
	assert.ErrorIs(t, err, plan.ErrDependencyNotMet)
	_, err = h.orch.ExecuteStep(context.Background(), p.ID, "nope")
	assert.ErrorIs(t, err, plan.ErrStepNotFound)

	step, err := h.orch.ExecuteStep(context.Background(), p.ID, "s1")
	require.NoError(t, err)
	assert.Equal(t, plan.StepDone, step.Status)
	assert.Equal(t, "one", step.Result)
	assert.Equal(t, 1, step.Attempts)

	_, err = h.orch.ExecuteStep(context.Background(), p.ID, "s1")
	assert.ErrorIs(t, err, plan.ErrInvalidTransition)

	_, err = h.orch.Pause(context.Background(), p.ID)
	require.NoError(t, err)
	_, err = h.orch.ExecuteStep(context.Background(), p.ID, "s2")
	require.NoError(t, err, "paused plans accept manual steps")

	snap, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.CurrentIteration)
	assert.Equal(t, plan.StatusPaused, snap.Status)
	assert.Empty(t, snap.Changes)
}

func TestVerify_DoesNotMutate(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
	p, err := h.orch.Start(context.Background(), "verify", execConfig(3, plan.FileExists("missing.txt")))
	require.NoError(t, err)

	v, err := h.orch.Verify(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.OutcomeFailure, v.Outcome)

	snap, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, snap.LastVerdict)
	assert.Equal(t, p.UpdatedAt, snap.UpdatedAt)
}

func TestDelete(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
	p, err := h.orch.Start(context.Background(), "delete me", execConfig(3, plan.OutputPattern("echo")))
	require.NoError(t, err)

	assert.ErrorIs(t, h.orch.Delete(context.Background(), p.ID), plan.ErrInvalidTransition)

	_, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	require.NoError(t, h.orch.Delete(context.Background(), p.ID))

	_, err = h.orch.Status(context.Background(), p.ID)
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)
	_, err = h.store.Load(context.Background(), p.ID)
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)
}

func TestLoadOnMiss(t *testing.T) {
	h := newHarness(t, chain("one", "two"), nil)
	p, err := h.orch.Start(context.Background(), "survive restart", execConfig(5, plan.OutputPattern("two")))
	require.NoError(t, err)
	_, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)

	// A fresh orchestrator over the same store picks the plan up.
	other := New(h.planner, h.orch.runner, h.orch.verifier, h.orch.replanner, h.store)
	snap, err := other.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentIteration)

	rep, err := other.Continue(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, rep.Status)

	plans, err := other.List(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, p.ID, plans[0].ID)
}

func TestLoadOnMiss_CorruptPlan(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.store.Save(context.Background(), &plan.Plan{
		ID:               "bad",
		Status:           plan.StatusActive,
		MaxIterations:    2,
		CurrentIteration: 5,
	}))

	_, err := h.orch.Status(context.Background(), "bad")
	assert.ErrorIs(t, err, plan.ErrStateCorruption)

	_, err = h.orch.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, plan.ErrPlanNotFound)
}

// failingStore accepts nothing.
type failingStore struct{ *store.Memory }

func (f *failingStore) Save(ctx context.Context, p *plan.Plan) error {
	return errors.New("disk full")
}

func TestStoreFailureKeepsMemoryState(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
	h.orch.store = &failingStore{Memory: store.NewMemory()}

	p, err := h.orch.Start(context.Background(), "unpersisted", execConfig(3, plan.OutputPattern("echo")))
	require.ErrorIs(t, err, plan.ErrStore)
	require.NotNil(t, p)

	rep, err := h.orch.Continue(context.Background(), p.ID)
	assert.ErrorIs(t, err, plan.ErrStore)
	assert.Equal(t, plan.StatusCompleted, rep.Status)

	snap, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StatusCompleted, snap.Status)
}

func TestProgressCallback(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "a", Action: "x"}, {ID: "b", Action: "y"}}, nil)
	var mu sync.Mutex
	seen := map[string][]plan.StepStatus{}
	h.orch.SetProgressCallback(func(planID string, step plan.Step) {
		mu.Lock()
		defer mu.Unlock()
		seen[step.ID] = append(seen[step.ID], step.Status)
	})

	p, err := h.orch.Start(context.Background(), "progress", execConfig(3, plan.OutputPattern("x")))
	require.NoError(t, err)
	_, err = h.orch.Continue(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, []plan.StepStatus{plan.StepRunning, plan.StepDone}, seen["a"])
	assert.Equal(t, []plan.StepStatus{plan.StepRunning, plan.StepDone}, seen["b"])
}

func TestStatus_ReturnsCopies(t *testing.T) {
	h := newHarness(t, []plan.Step{{ID: "s1", Action: "echo"}}, nil)
	p, err := h.orch.Start(context.Background(), "copies", execConfig(3, plan.OutputPattern("echo")))
	require.NoError(t, err)

	snap, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)
	snap.Steps[0].Status = plan.StepDone
	snap.Goal = "mutated"

	again, err := h.orch.Status(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.StepWaiting, again.Steps[0].Status)
	assert.Equal(t, "copies", again.Goal)
}
