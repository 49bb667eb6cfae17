package invoker

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rohanthewiz/serr"
)

// Agent hands each step action to an agent CLI as a prompt and reads its
// stream-json transcript from stdout.
//
// The default command line is:
//
//	<binary> --dangerously-skip-permissions -p <action> --output-format stream-json --verbose
type Agent struct {
	// Binary is the agent executable. Defaults to "claude".
	Binary string

	// Args replaces the flags placed before the prompt when non-empty.
	Args []string

	// Model is passed with --model when set.
	Model string

	WorkDir            string
	TransientExitCodes []int
}

// NewAgent creates an [Agent] invoker for the given binary.
func NewAgent(binary, workDir string) *Agent {
	return &Agent{
		Binary:             binary,
		WorkDir:            workDir,
		TransientExitCodes: DefaultTransientExitCodes,
	}
}

func (a *Agent) commandLine(prompt string) (string, []string) {
	binary := a.Binary
	if binary == "" {
		binary = "claude"
	}
	args := a.Args
	if len(args) == 0 {
		args = []string{"--dangerously-skip-permissions"}
	}
	out := append([]string{}, args...)
	out = append(out, "-p", prompt, "--output-format", "stream-json", "--verbose")
	if a.Model != "" {
		out = append(out, "--model", a.Model)
	}
	return binary, out
}

// Invoke runs the agent with the action as its prompt and returns the session's answer.
func (a *Agent) Invoke(ctx context.Context, action string, timeout time.Duration) (string, error) {
	prompt := strings.TrimSpace(action)
	if prompt == "" {
		return "", NewPermanent(serr.New("empty action"))
	}

	binary, args := a.commandLine(prompt)
	cmd := exec.CommandContext(ctx, binary, args...)
	if a.WorkDir != "" {
		cmd.Dir = a.WorkDir
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", NewPermanent(serr.Wrap(err, "failed to open agent stdout"))
	}
	if err := cmd.Start(); err != nil {
		return "", NewPermanent(serr.Wrap(err, "failed to start "+binary))
	}

	transcript, readErr := ReadTranscript(stdout)
	waitErr := cmd.Wait()
	output := transcript.Output()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code := exitErr.ExitCode()
			return output, &Error{
				Kind:     classifyExit(code, a.TransientExitCodes),
				ExitCode: code,
				Output:   output,
				Err:      serr.Wrap(waitErr, "agent failed: "+strings.TrimSpace(stderr.String())),
			}
		}
		return output, NewPermanent(serr.Wrap(waitErr, "agent did not exit cleanly"))
	}
	if readErr != nil {
		return output, NewTransient(serr.Wrap(readErr, "agent output unreadable"))
	}
	if transcript.Failed {
		return output, NewPermanent(serr.New("agent reported an error result: " + output))
	}
	return output, nil
}
