package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/ethereum/go-ethereum/log"

	"github.com/molsim/suite-runner/routing"
	"github.com/molsim/suite-runner/types"
)

// WorkerConfig configures one worker process's test loop.
type WorkerConfig struct {
	Single  SingleConfig
	Routing *routing.Table
	Log     log.Logger
}

// WorkerLoop consumes tasks from in until the sentinel arrives, executing
// each test and writing one result to out per real task. It is the main
// loop of a worker process but is written against plain readers/writers so
// it can also run over in-memory pipes.
//
// Tests in the master-only routing table are not executed; the worker
// reports RUN_ON_MASTER and moves on. After every executed test the worker
// asserts that no fork-unsafe capability became active as a byproduct; a
// violation is a harness fault. Harness faults produce an ABORT result and
// stop the loop. Cancellation stops the loop without a result.
func WorkerLoop(ctx context.Context, cfg WorkerConfig, in io.Reader, out io.Writer) (err error) {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	if cfg.Routing == nil {
		cfg.Routing = routing.DefaultTable()
	}

	dec := json.NewDecoder(in)
	rw := newResultWriter(out)

	var current string
	defer func() {
		// A fault in the loop itself is an internal harness error, not
		// a test outcome. Report ABORT so the dispatcher halts the run.
		if v := recover(); v != nil {
			err = fmt.Errorf("worker panic: %v", v)
			abort(rw, current, err, string(debug.Stack()))
		}
	}()

	for {
		current = ""

		var task taskMessage
		if decErr := dec.Decode(&task); decErr != nil {
			if errors.Is(decErr, io.EOF) {
				// Dispatcher hung up without a sentinel; treat as done.
				return nil
			}
			err = fmt.Errorf("failed to decode task: %w", decErr)
			abort(rw, "", err, "")
			return err
		}
		if task.NoMoreTests {
			logger.Debug("Worker received sentinel, exiting", "pid", os.Getpid())
			return nil
		}
		current = task.Test

		if cfg.Routing.RunOnMaster(task.Test) {
			logger.Debug("Deferring master-only test", "test", task.Test)
			if sendErr := rw.send(&types.Result{
				Name:   task.Test,
				PID:    os.Getpid(),
				Status: types.StatusRunOnMaster,
			}); sendErr != nil {
				return fmt.Errorf("failed to send result: %w", sendErr)
			}
			continue
		}

		res, runErr := RunSingle(ctx, task.Test, cfg.Single)
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
				logger.Warn("Worker interrupted", "pid", os.Getpid(), "test", task.Test)
				return runErr
			}
			err = runErr
			abort(rw, task.Test, runErr, "")
			return err
		}

		// Fork-unsafe capabilities must never become active inside a
		// worker; the routing table exists to keep such tests on master.
		if name := activeUnsafe(cfg); name != "" {
			err = fmt.Errorf("fork-unsafe capability %q activated by %s", name, task.Test)
			abort(rw, task.Test, err, "")
			return err
		}

		if sendErr := rw.send(res); sendErr != nil {
			return fmt.Errorf("failed to send result: %w", sendErr)
		}
	}
}

func activeUnsafe(cfg WorkerConfig) string {
	if cfg.Single.Gate == nil {
		return ""
	}
	return cfg.Single.Gate.UnsafeActive()
}

// abort reports a harness-scoped fault. Send errors are ignored: if the
// pipe is gone the dispatcher is already tearing us down.
func abort(rw *resultWriter, test string, cause error, stack string) {
	if stack == "" {
		stack = cause.Error()
	}
	_ = rw.send(&types.Result{
		Name:      test,
		PID:       os.Getpid(),
		Status:    types.StatusAbort,
		Error:     cause.Error(),
		Traceback: stack,
	})
}
