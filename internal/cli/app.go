package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rohanthewiz/logger"

	"workloop/internal/config"
	"workloop/internal/executor"
	"workloop/internal/invoker"
	"workloop/internal/llm"
	"workloop/internal/orchestrator"
	"workloop/internal/output"
	"workloop/internal/planner"
	"workloop/internal/replan"
	"workloop/internal/store"
	"workloop/internal/verify"
)

// NewApp assembles the orchestrator and its collaborators from cfg.
//
// The wiring order is store, tool invoker, step executor, verifier, planner
// and re-planner. The store is opened eagerly so a misconfigured back-end is
// reported before any command runs.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	app := &App{Config: cfg, Printer: output.NewPrinter()}
	if c, ok := st.(io.Closer); ok {
		app.closers = append(app.closers, c)
	}

	shell := invoker.NewShell(cfg.Invoker.Shell, cfg.Invoker.WorkDir, cfg.Invoker.TransientExitCodes)
	ex := executor.New(newInvoker(cfg, shell))
	ex.SetBackoff(cfg.Backoff())
	ex.SetRateLimit(cfg.Exec.InvokeRate, cfg.Exec.InvokeBurst)

	client := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.Model, cfg.LLM.APIKey, cfg.LLM.Timeout)
	ver := verify.New(cfg.Invoker.WorkDir, shell, nil)
	if cfg.LLM.APIKey != "" {
		ver.SetJudge(llm.NewJudge(client, cfg.LLM.PassThreshold))
	}

	pl, err := newPlanner(cfg, client)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	rp := replan.New(pl)
	rp.SetVerifier(ver, cfg.Exec.ReverifyLimit)

	app.Engine = orchestrator.New(pl, ex, ver, rp, st)
	logger.Debug("workloop ready",
		"store", cfg.Store.Driver,
		"planner", cfg.Planner.Kind,
		"invoker", cfg.Invoker.Kind)
	return app, nil
}

func newInvoker(cfg *config.Config, shell *invoker.Shell) invoker.Invoker {
	if strings.EqualFold(cfg.Invoker.Kind, config.InvokerAgent) {
		agent := invoker.NewAgent(cfg.Invoker.Agent.BinaryPath, cfg.Invoker.WorkDir)
		agent.Args = cfg.Invoker.Agent.Args
		agent.Model = cfg.Invoker.Agent.Model
		if len(cfg.Invoker.TransientExitCodes) > 0 {
			agent.TransientExitCodes = cfg.Invoker.TransientExitCodes
		}
		return agent
	}
	return shell
}

func newPlanner(cfg *config.Config, client *llm.Client) (planner.Planner, error) {
	if strings.EqualFold(cfg.Planner.Kind, config.PlannerManifest) {
		m, err := planner.ReadManifestFile(cfg.Planner.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load step manifest: %w", err)
		}
		return m, nil
	}
	return llm.NewPlanner(client), nil
}
