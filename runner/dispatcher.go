// Package runner contains the parallel dispatch engine: the dispatcher
// that owns the task and result queues, the worker loop that runs in
// subprocesses, and the single-test runner both sides share.
//
// Parallelism is at the OS-process level. Test bodies are untrusted with
// respect to crashes and global state, so each worker bounds the blast
// radius of the tests it runs. The dispatcher and workers communicate only
// through the two queues; workers never talk to one another.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/molsim/suite-runner/routing"
	"github.com/molsim/suite-runner/types"
)

// MaxWorkers caps the automatically chosen worker count.
const MaxWorkers = 32

// AbortError is the fatal run-level error raised after a worker reports an
// ABORT result. It is distinct from ordinary test failures: the harness
// itself faulted.
type AbortError struct {
	Result *types.Result
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("ABORT: internal error in test suite: %s", e.Result.Error)
}

// IsAbort reports whether err is or wraps an AbortError.
func IsAbort(err error) bool {
	var abortErr *AbortError
	return err != nil && errors.As(err, &abortErr)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Workers is the number of worker processes. 0 runs every test
	// inline in the dispatcher's process, in submission order.
	Workers int

	// Single configures master-side executions: the inline path and
	// master-only re-runs.
	Single SingleConfig

	Routing *routing.Table
	Spawner Spawner
	Log     log.Logger
	RunID   string
}

// Dispatcher distributes tests to workers and collects their results.
type Dispatcher struct {
	cfg     DispatcherConfig
	log     log.Logger
	routing *routing.Table
	tracer  trace.Tracer
}

// NewDispatcher validates cfg and returns a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("worker count cannot be negative, got %d", cfg.Workers)
	}
	if cfg.Workers > 0 && cfg.Spawner == nil {
		return nil, errors.New("a spawner is required when workers > 0")
	}
	if cfg.Single.Executor == nil {
		return nil, errors.New("a master-side executor is required")
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	if cfg.Workers > MaxWorkers {
		logger.Warn("Very high worker count requested", "workers", cfg.Workers)
	}
	tbl := cfg.Routing
	if tbl == nil {
		tbl = routing.DefaultTable()
	}
	return &Dispatcher{
		cfg:     cfg,
		log:     logger.New("component", "dispatcher"),
		routing: tbl,
		tracer:  otel.Tracer("suite-runner/dispatcher"),
	}, nil
}

// Run executes the given tests and returns their results in completion
// order. observe, if non-nil, is called with each result as it arrives, so
// reporting can stream; results are owned by the dispatcher once yielded
// and are never mutated afterwards.
//
// Exactly one result is collected per submitted test unless a worker
// reports ABORT, which halts the run with an AbortError after that result
// has been yielded. On any error other than cancellation, all workers are
// hard-terminated; on every exit path, all spawned workers are reaped.
func (d *Dispatcher) Run(ctx context.Context, tests []string, observe func(*types.Result)) ([]*types.Result, error) {
	if observe == nil {
		observe = func(*types.Result) {}
	}
	if d.cfg.Workers == 0 {
		return d.runInline(ctx, tests, observe)
	}
	return d.runParallel(ctx, tests, observe)
}

// runInline executes every test synchronously in the dispatcher's own
// process. Workdir save/restore still applies per test, since the runs
// share one process sequentially.
func (d *Dispatcher) runInline(ctx context.Context, tests []string, observe func(*types.Result)) ([]*types.Result, error) {
	results := make([]*types.Result, 0, len(tests))
	for _, test := range tests {
		res, err := d.runOnMaster(ctx, test)
		if err != nil {
			return results, err
		}
		observe(res)
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) runParallel(ctx context.Context, tests []string, observe func(*types.Result)) (results []*types.Result, err error) {
	d.log.Info("Starting parallel test execution",
		"totalTests", len(tests), "workers", d.cfg.Workers, "run_id", d.cfg.RunID)

	// Task queue: every identifier once. Closing the channel is what
	// makes each feeder send its worker the sentinel, so the number of
	// sentinels equals the number of workers by construction.
	taskCh := make(chan string, len(tests))
	for _, test := range tests {
		taskCh <- test
	}
	close(taskCh)

	// Result queue. Each test yields at most one worker-side result
	// (ABORT replaces the result of the test it interrupted), so this
	// buffer means no worker goroutine ever blocks on send.
	resultCh := make(chan *types.Result, len(tests))

	var workers []*workerHandle
	defer func() {
		// Reap on every exit path so no worker is orphaned.
		for _, w := range workers {
			w.reap()
		}
	}()

	for i := 0; i < d.cfg.Workers; i++ {
		w, spawnErr := d.cfg.Spawner.Spawn(ctx, i)
		if spawnErr != nil {
			d.killAll(workers)
			return nil, fmt.Errorf("failed to spawn worker %d: %w", i, spawnErr)
		}
		workers = append(workers, w)
		go feedWorker(w, taskCh)
		go readWorker(w, resultCh)
	}

	results, err = d.collect(ctx, len(tests), resultCh, observe)
	if err != nil && !isInterrupt(err) {
		// A hung or faulty worker must not block shutdown: terminate
		// hard rather than asking workers to finish their tasks.
		d.log.Error("Run failed, terminating workers", "err", err)
		d.killAll(workers)
	}
	return results, err
}

// collect performs exactly n blocking receives on the result queue,
// re-running master-only tests locally as their placeholders arrive.
func (d *Dispatcher) collect(ctx context.Context, n int, resultCh <-chan *types.Result, observe func(*types.Result)) ([]*types.Result, error) {
	results := make([]*types.Result, 0, n)
	for i := 0; i < n; i++ {
		// Interruption wins over a ready result.
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		var res *types.Result
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case res = <-resultCh:
		}

		if res.Status == types.StatusRunOnMaster {
			rerun, err := d.runOnMaster(ctx, res.Name)
			if err != nil {
				return results, err
			}
			res = rerun
		}

		observe(res)
		results = append(results, res)

		if res.Status == types.StatusAbort {
			return results, &AbortError{Result: res}
		}
	}
	return results, nil
}

// runOnMaster executes one test in the dispatcher's own process.
func (d *Dispatcher) runOnMaster(ctx context.Context, test string) (*types.Result, error) {
	ctx, span := d.tracer.Start(ctx, "runTest")
	defer span.End()
	return RunSingle(ctx, test, d.cfg.Single)
}

func (d *Dispatcher) killAll(workers []*workerHandle) {
	for _, w := range workers {
		w.kill()
	}
}

// feedWorker pumps the shared task queue into one worker, then sends the
// sentinel and closes the pipe. A send error means the worker died; its
// remaining share stays on the queue for the others.
func feedWorker(w *workerHandle, taskCh <-chan string) {
	tw := newTaskWriter(w.in)
	for test := range taskCh {
		if err := tw.send(taskMessage{Test: test}); err != nil {
			return
		}
	}
	_ = tw.send(sentinel())
	_ = w.in.Close()
}

// readWorker pumps one worker's results onto the shared result queue until
// the worker's pipe closes.
func readWorker(w *workerHandle, resultCh chan<- *types.Result) {
	dec := w.decoder()
	for {
		var res types.Result
		if err := dec.Decode(&res); err != nil {
			return
		}
		resultCh <- &res
	}
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AutoWorkers picks a worker count for the -1 "auto" setting: all
// available processors up to MaxWorkers.
func AutoWorkers() int {
	n := runtime.NumCPU()
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}
