package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/molsim/suite-runner/types"
)

// SkipExitCode is the exit code a test script uses to request a skip, with
// the reason on the last line of stderr. 77 is the conventional skip code
// used by automake-style harnesses.
const SkipExitCode = 77

// failExitCode marks an assertion failure and carries the message on
// stderr. Other nonzero codes are plain termination requests; only a
// signal death is an uncaught fault.
const failExitCode = 1

// ScriptExecutor runs test files through an interpreter subprocess. The
// child inherits the current working directory, so it executes inside the
// isolated workdir the single-test runner entered.
type ScriptExecutor struct {
	TestDir     string
	Interpreter []string // e.g. {"python3"} or {"sh"}
	Env         []string // extra KEY=VALUE entries
}

// ScriptError is an uncaught fault inside a test script: it was killed by
// a signal instead of exiting.
type ScriptError struct {
	Code   int
	Output string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("test script exited with code %d", e.Code)
}

func (e *ScriptError) Trace() string {
	return e.Output
}

// Execute implements Executor.
func (e *ScriptExecutor) Execute(ctx context.Context, name string, sc *Scope) error {
	if len(e.Interpreter) == 0 {
		return errors.New("script executor has no interpreter configured")
	}

	path, err := filepath.Abs(filepath.Join(e.TestDir, filepath.FromSlash(name)))
	if err != nil {
		return fmt.Errorf("failed to resolve test path: %w", err)
	}

	argv := append(slices.Clone(e.Interpreter), path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), e.Env...)

	var stderr bytes.Buffer
	cmd.Stdout = sc.Output
	cmd.Stderr = io.MultiWriter(sc.Output, &stderr)

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runErr == nil {
		return nil
	}

	tail := stripansi.Strip(strings.TrimSpace(stderr.String()))
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return fmt.Errorf("failed to run test script: %w", runErr)
	}

	switch code := exitErr.ExitCode(); code {
	case SkipExitCode:
		reason := lastLine(tail)
		if reason == "" {
			reason = "skip requested"
		}
		return &types.SkipError{Reason: reason}
	case failExitCode:
		msg := lastLine(tail)
		if msg == "" {
			msg = "assertion failed"
		}
		return &types.FailError{Msg: msg, TraceText: tail}
	default:
		// ExitCode is -1 when the script died from a signal.
		if code < 0 {
			return &ScriptError{Code: code, Output: tail}
		}
		return &types.ExitError{Code: code}
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
