// Package harness ties the suite-runner components into a service: it
// discovers tests, dispatches them across worker processes, streams the
// report, and maps the run verdict onto a process exit code.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/molsim/suite-runner/discovery"
	"github.com/molsim/suite-runner/exitcodes"
	"github.com/molsim/suite-runner/executor"
	"github.com/molsim/suite-runner/flags"
	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/logging"
	"github.com/molsim/suite-runner/metrics"
	"github.com/molsim/suite-runner/reporting"
	"github.com/molsim/suite-runner/routing"
	"github.com/molsim/suite-runner/runner"
	"github.com/molsim/suite-runner/types"
)

// Harness runs the test suite, once or on an interval.
type Harness struct {
	ctx     context.Context
	config  *Config
	version string

	lastSummary reporting.Summary
	haveResult  bool

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Harness, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating harness with config",
		"testDir", config.TestDir,
		"workers", config.Workers,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"strict", config.Strict)

	return &Harness{
		ctx:              ctx,
		config:           config,
		version:          version,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the suite, then either exits (run-once mode) or keeps
// re-running it at the configured interval.
func (h *Harness) Start(ctx context.Context) error {
	// Panics escaping the run are runtime errors, exit code 2.
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	h.ctx = ctx
	h.done = make(chan struct{})
	h.running.Store(true)

	if h.config.ListBackends {
		for _, name := range gating.KnownBackends() {
			fmt.Println(name)
		}
		go func() { h.shutdownCallback(nil) }()
		return nil
	}

	if h.config.RunOnce {
		h.config.Log.Info("Starting suite-runner in run-once mode")
	} else {
		h.config.Log.Info("Starting suite-runner in continuous mode", "interval", h.config.RunInterval)
	}

	err := h.runTests()
	if err != nil {
		h.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	if h.config.RunOnce {
		h.config.Log.Info("Tests completed, exiting (run-once mode)")

		if h.haveResult && !h.lastSummary.Passed() {
			h.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(fmt.Sprintf("%d failed, %d errored",
				len(h.lastSummary.Failed), len(h.lastSummary.Errored)))
		}

		go func() {
			h.shutdownCallback(nil)
		}()
		return nil
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.config.Log.Debug("Starting periodic test runner goroutine", "interval", h.config.RunInterval)

		for {
			select {
			case <-time.After(h.config.RunInterval):
				if !h.running.Load() {
					h.config.Log.Debug("Service stopped, exiting periodic test runner")
					return
				}

				h.config.Log.Info("Running periodic tests")
				if err := h.runTests(); err != nil {
					h.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-h.done:
				h.config.Log.Debug("Done signal received, stopping periodic test runner")
				return

			case <-ctx.Done():
				h.config.Log.Debug("Context canceled, stopping periodic test runner")
				h.running.Store(false)
				return
			}
		}
	}()
	h.config.Log.Debug("suite-runner started successfully")
	return nil
}

// runTests performs one full run: discovery, dispatch, reporting.
func (h *Harness) runTests() error {
	runID := uuid.New().String()
	logger := h.config.Log.New("run_id", runID)

	tests, err := h.selectTests()
	if err != nil {
		metrics.RecordErrorDetails("test discovery failed", err)
		return NewRuntimeError(err)
	}

	if h.config.List {
		for _, test := range tests {
			fmt.Println(test)
		}
		return nil
	}

	table, err := h.routingTable()
	if err != nil {
		return NewRuntimeError(err)
	}

	fileLog, err := logging.NewFileLogger(h.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(err)
	}
	logger.Info("Logging run", "dir", fileLog.RunDir())

	dispatcher, err := h.newDispatcher(runID, table)
	if err != nil {
		return NewRuntimeError(err)
	}

	reporter := reporting.NewReporter(os.Stdout)
	observe := func(res *types.Result) {
		reporter.PrintResult(res)
		if logErr := fileLog.Consume(res); logErr != nil {
			logger.Warn("Failed to log result", "test", res.Name, "err", logErr)
		}
		metrics.RecordResult(runID, res)
	}

	start := time.Now()
	results, runErr := dispatcher.Run(h.ctx, tests, observe)
	duration := time.Since(start)

	summary := reporting.Summarize(results)
	reporter.PrintSummary(summary)
	if logErr := fileLog.Complete(summary); logErr != nil {
		logger.Warn("Failed to finalize run log", "err", logErr)
	}
	metrics.RecordRun(runID, summary.Passed(), summary.Total(),
		len(summary.OK), len(summary.Failed)+len(summary.Errored), duration)

	h.lastSummary = summary
	h.haveResult = true

	if runErr != nil {
		if runner.IsAbort(runErr) {
			logger.Error("Run aborted by worker fault", "err", runErr)
		}
		metrics.RecordErrorDetails("test run failed", runErr)
		return NewRuntimeError(runErr)
	}

	logger.Info("Test run completed",
		"tests", summary.Total(), "passed", summary.Passed(), "duration", duration)
	return nil
}

func (h *Harness) selectTests() ([]string, error) {
	cfg := discovery.Config{TestDir: h.config.TestDir, Log: h.config.Log}
	if len(h.config.TestPatterns) > 0 {
		return discovery.Select(cfg, h.config.TestPatterns)
	}
	return discovery.Discover(cfg)
}

func (h *Harness) routingTable() (*routing.Table, error) {
	if h.config.RoutingFile == "" {
		return routing.DefaultTable(), nil
	}
	return routing.LoadTable(h.config.RoutingFile)
}

// newDispatcher assembles the dispatch engine for one run. The master-side
// executor also serves the inline path when Workers is 0.
func (h *Harness) newDispatcher(runID string, table *routing.Table) (*runner.Dispatcher, error) {
	workers := h.config.Workers
	if workers < 0 {
		workers = runner.AutoWorkers()
	}

	single := runner.SingleConfig{
		Executor: &executor.ScriptExecutor{
			TestDir:     h.config.TestDir,
			Interpreter: []string{h.config.Interpreter},
		},
		Gate:    gating.New(h.config.Backends...),
		BaseDir: h.config.WorkDir,
		Verbose: h.config.Verbose,
		Strict:  h.config.Strict,
		Stdout:  os.Stdout,
	}

	var spawner runner.Spawner
	if workers > 0 {
		s, err := runner.SelfExec(h.workerArgs(), h.config.Log)
		if err != nil {
			return nil, err
		}
		spawner = s
	}

	return runner.NewDispatcher(runner.DispatcherConfig{
		Workers: workers,
		Single:  single,
		Routing: table,
		Spawner: spawner,
		Log:     h.config.Log,
		RunID:   runID,
	})
}

// workerArgs builds the argument vector that re-executes this binary in
// worker mode with the current run's configuration.
func (h *Harness) workerArgs() []string {
	args := []string{
		"worker",
		"--" + flags.TestDir.Name, h.config.TestDir,
		"--" + flags.Interpreter.Name, h.config.Interpreter,
		"--" + flags.WorkDir.Name, h.config.WorkDir,
	}
	if h.config.Verbose {
		args = append(args, "--"+flags.Verbose.Name)
	}
	if h.config.Strict {
		args = append(args, "--"+flags.Strict.Name)
	}
	if len(h.config.Backends) > 0 {
		args = append(args, "--"+flags.Backends.Name, strings.Join(h.config.Backends, ","))
	}
	if h.config.RoutingFile != "" {
		args = append(args, "--"+flags.RoutingFile.Name, h.config.RoutingFile)
	}
	return args
}

// Stop stops the suite-runner service.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Info("Stopping suite-runner")

	if !h.running.Load() {
		h.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	h.running.Store(false)
	h.config.Log.Debug("Sending done signal to goroutines")
	close(h.done)

	h.config.Log.Info("suite-runner stopped successfully")
	return nil
}

// Stopped returns true if the suite-runner service is stopped.
func (h *Harness) Stopped() bool {
	return !h.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (h *Harness) WaitForShutdown(ctx context.Context) error {
	h.config.Log.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		h.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
