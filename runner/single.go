package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/molsim/suite-runner/executor"
	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/types"
)

// SingleConfig configures one single-test execution.
type SingleConfig struct {
	Executor executor.Executor
	Gate     *gating.Gate

	// BaseDir is where isolated workdirs are created. Defaults to the
	// current directory.
	BaseDir string

	Verbose bool
	Strict  bool

	// Stdout receives test output when Verbose is set. Defaults to
	// os.Stdout; worker processes point it at stderr because their
	// stdout carries the result protocol.
	Stdout io.Writer

	// StrictPolicy selects the warnings exempt from strict escalation.
	// A zero value means DefaultStrictPolicy.
	StrictPolicy executor.StrictPolicy
}

// WorkdirName derives the isolated working-directory name for a test
// identifier. The transform is pure, so the same identifier always maps to
// the same directory and distinct identifiers never collide.
func WorkdirName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_", ".", "_").Replace(name)
}

// RunSingle executes one test in isolation and converts every test-scoped
// outcome into a Result. Only two things escape as an error: cancellation
// (no Result is produced, per the dispatch contract) and harness-scoped
// faults such as being unable to enter or leave the workdir.
//
// Elapsed time covers the whole enter-execute-leave span regardless of
// outcome. The prior working directory is restored on every exit path.
func RunSingle(ctx context.Context, name string, cfg SingleConfig) (*types.Result, error) {
	if cfg.Executor == nil {
		return nil, errors.New("single-test runner needs an executor")
	}
	if cfg.StrictPolicy.IgnoredCategories == nil && cfg.StrictPolicy.IgnoredPatterns == nil {
		cfg.StrictPolicy = executor.DefaultStrictPolicy()
	}

	res := &types.Result{Name: name, PID: os.Getpid()}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	workdir, err := filepath.Abs(filepath.Join(cfg.BaseDir, WorkdirName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workdir: %w", err)
	}
	res.Workdir = workdir

	// Tests may write files named like other tests' outputs, so every
	// test gets its own directory.
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}

	out := io.Discard
	if cfg.Verbose {
		out = cfg.Stdout
		if out == nil {
			out = os.Stdout
		}
	}
	sc := executor.NewScope(out, cfg.Gate)

	start := time.Now()
	if err := os.Chdir(workdir); err != nil {
		return nil, fmt.Errorf("failed to enter workdir: %w", err)
	}
	execErr := runBody(ctx, cfg.Executor, name, sc)
	chdirErr := os.Chdir(cwd)
	res.Duration = time.Since(start)

	if chdirErr != nil {
		return nil, fmt.Errorf("failed to restore working directory: %w", chdirErr)
	}
	if execErr != nil && (errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded)) {
		return nil, execErr
	}

	classify(res, execErr, sc, cfg)
	return res, nil
}

// runBody invokes the executor and converts panics in the test body into
// errors, preserving signal values thrown by assertion combinators.
func runBody(ctx context.Context, e executor.Executor, name string, sc *executor.Scope) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		switch sig := v.(type) {
		case *types.SkipError:
			err = sig
		case *types.FailError:
			if sig.TraceText == "" {
				sig.TraceText = string(debug.Stack())
			}
			err = sig
		case *types.ExitError:
			err = sig
		case error:
			err = &panicError{cause: sig, stack: string(debug.Stack())}
		default:
			err = &panicError{cause: fmt.Errorf("%v", v), stack: string(debug.Stack())}
		}
	}()
	return e.Execute(ctx, name, sc)
}

// panicError is an uncaught fault recovered from a test body.
type panicError struct {
	cause error
	stack string
}

func (e *panicError) Error() string {
	return e.cause.Error()
}

func (e *panicError) Trace() string {
	return e.stack
}

func (e *panicError) Unwrap() error {
	return e.cause
}

// classify maps the execution outcome onto the result. The mapping is
// exhaustive: every category the executor contract allows has exactly one
// status.
func classify(res *types.Result, execErr error, sc *executor.Scope, cfg SingleConfig) {
	if execErr == nil {
		if cfg.Strict {
			if v := cfg.StrictPolicy.Violation(sc.Warnings.Warnings()); v != nil {
				res.Status = types.StatusFail
				res.Error = fmt.Sprintf("warning escalated to failure: %s (%s)", v.Message, v.Category)
				return
			}
		}
		res.Status = types.StatusOK
		return
	}

	var (
		skip *types.SkipError
		fail *types.FailError
		exit *types.ExitError
	)
	switch {
	case errors.As(execErr, &skip):
		res.Status = types.StatusSkipped
		res.WhySkipped = skip.Reason
	case errors.As(execErr, &fail):
		res.Status = types.StatusFail
		res.Error = fail.Msg
		res.Traceback = fail.Trace()
	case errors.As(execErr, &exit):
		if exit.Code == 0 {
			res.Status = types.StatusOK
		} else {
			res.Status = types.StatusFail
			res.Error = exit.Error()
		}
	default:
		res.Status = types.StatusError
		res.Error = execErr.Error()
		var traced types.Traced
		if errors.As(execErr, &traced) {
			res.Traceback = traced.Trace()
		} else {
			res.Traceback = execErr.Error()
		}
	}
}
