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

// DefaultTransientExitCodes are exit codes treated as retryable.
// 75 is EX_TEMPFAIL from sysexits.h.
var DefaultTransientExitCodes = []int{75}

// killGrace bounds how long a cancelled command's orphaned children may hold its output pipes.
const killGrace = 500 * time.Millisecond

// Shell runs step actions as shell commands.
//
// An action of the form "@name(args)" runs a built-in file action instead (see
// [ParseBuiltin]). A leading "!" is accepted and stripped, so "!make test" and
// "make test" are equivalent.
type Shell struct {
	// Shell is the interpreter invoked with "-c". Defaults to "sh".
	Shell string

	// WorkDir is the working directory for commands and relative paths.
	WorkDir string

	// TransientExitCodes lists exit codes reported as [Transient].
	TransientExitCodes []int
}

// NewShell creates a [Shell] invoker rooted at workDir.
func NewShell(shell, workDir string, transientExitCodes []int) *Shell {
	if transientExitCodes == nil {
		transientExitCodes = DefaultTransientExitCodes
	}
	return &Shell{
		Shell:              shell,
		WorkDir:            workDir,
		TransientExitCodes: transientExitCodes,
	}
}

// Invoke runs the action and returns its combined output.
func (s *Shell) Invoke(ctx context.Context, action string, timeout time.Duration) (string, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return "", NewPermanent(serr.New("empty action"))
	}
	if b, ok := ParseBuiltin(action); ok {
		return s.runBuiltin(ctx, b)
	}
	return s.runCommand(ctx, strings.TrimPrefix(action, "!"))
}

func (s *Shell) runCommand(ctx context.Context, command string) (string, error) {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, nil
	}

	// The executor decides between timeout and cancellation from ctx itself.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		return output, &Error{
			Kind:     classifyExit(code, s.TransientExitCodes),
			ExitCode: code,
			Output:   output,
			Err:      serr.Wrap(err, "command failed: "+firstLine(command)),
		}
	}
	return output, NewPermanent(serr.Wrap(err, "could not start "+shell))
}

// ExitCode runs command and returns its exit code. Output is returned for diagnostics.
// A command that cannot be started returns an error.
func (s *Shell) ExitCode(ctx context.Context, command string) (int, string, error) {
	out, err := s.runCommand(ctx, command)
	if err == nil {
		return 0, out, nil
	}
	var ie *Error
	if errors.As(err, &ie) && ie.ExitCode >= 0 {
		return ie.ExitCode, ie.Output, nil
	}
	return -1, "", err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
