package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molsim/suite-runner/executor"
	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/routing"
	"github.com/molsim/suite-runner/types"
)

// pipeSpawner runs worker loops in-process over in-memory pipes. The
// dispatcher cannot tell the difference; kill and reap semantics match the
// subprocess spawner.
type pipeSpawner struct {
	reg     *executor.Registry
	baseDir string

	mu   sync.Mutex
	done []chan struct{}
}

func (s *pipeSpawner) Spawn(ctx context.Context, index int) (*workerHandle, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	wctx, cancel := context.WithCancel(context.Background())

	cfg := WorkerConfig{
		Single: SingleConfig{
			Executor:     s.reg,
			Gate:         gating.New(),
			BaseDir:      s.baseDir,
			StrictPolicy: executor.DefaultStrictPolicy(),
		},
		Routing: routing.DefaultTable(),
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.done = append(s.done, done)
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = WorkerLoop(wctx, cfg, inR, outW)
		_ = outW.Close()
	}()

	kill := func() {
		cancel()
		_ = inR.Close()
		_ = outR.Close()
	}
	wait := func() error {
		<-done
		cancel()
		return nil
	}
	return NewWorkerHandle(fmt.Sprintf("pipe-%d", index), inW, outR, kill, wait), nil
}

func (s *pipeSpawner) allExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, done := range s.done {
		select {
		case <-done:
		default:
			return false
		}
	}
	return true
}

func basicRegistry(t *testing.T) *executor.Registry {
	t.Helper()
	reg := executor.NewRegistry()
	require.NoError(t, reg.Register("a.py", func(ctx context.Context, sc *executor.Scope) error {
		return nil
	}))
	require.NoError(t, reg.Register("b.py", func(ctx context.Context, sc *executor.Scope) error {
		return types.Skip("no lammps")
	}))
	require.NoError(t, reg.Register("c.py", func(ctx context.Context, sc *executor.Scope) error {
		return types.Failf("forces do not match")
	}))
	return reg
}

func newTestDispatcher(t *testing.T, workers int, reg *executor.Registry) (*Dispatcher, *pipeSpawner) {
	t.Helper()
	restoreWd(t)
	spawner := &pipeSpawner{reg: reg, baseDir: t.TempDir()}
	d, err := NewDispatcher(DispatcherConfig{
		Workers: workers,
		Single: SingleConfig{
			Executor:     reg,
			Gate:         gating.New(),
			BaseDir:      spawner.baseDir,
			StrictPolicy: executor.DefaultStrictPolicy(),
		},
		Spawner: spawner,
		RunID:   "test-run",
	})
	require.NoError(t, err)
	return d, spawner
}

// restoreWd pins the working directory for tests that run in-process
// workers concurrently; chdir is process-global.
func restoreWd(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func statuses(results []*types.Result) map[string]types.Status {
	m := make(map[string]types.Status, len(results))
	for _, r := range results {
		m[r.Name] = r.Status
	}
	return m
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(DispatcherConfig{Workers: -1})
	require.ErrorContains(t, err, "cannot be negative")

	_, err = NewDispatcher(DispatcherConfig{Workers: 1, Single: SingleConfig{Executor: executor.NewRegistry()}})
	require.ErrorContains(t, err, "spawner is required")

	_, err = NewDispatcher(DispatcherConfig{Workers: 0})
	require.ErrorContains(t, err, "executor is required")
}

func TestDispatcherInlinePreservesSubmissionOrder(t *testing.T) {
	d, _ := newTestDispatcher(t, 0, basicRegistry(t))

	var streamed []string
	results, err := d.Run(context.Background(), []string{"c.py", "a.py", "b.py"}, func(r *types.Result) {
		streamed = append(streamed, r.Name)
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"c.py", "a.py", "b.py"}, streamed)
	assert.Equal(t, types.StatusFail, results[0].Status)
	assert.Equal(t, types.StatusOK, results[1].Status)
	assert.Equal(t, types.StatusSkipped, results[2].Status)
}

func TestDispatcherParallelOneResultPerTest(t *testing.T) {
	d, spawner := newTestDispatcher(t, 2, basicRegistry(t))

	observed := 0
	results, err := d.Run(context.Background(), []string{"a.py", "b.py", "c.py"}, func(*types.Result) {
		observed++
	})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, 3, observed)
	names := make(map[string]int)
	for _, r := range results {
		names[r.Name]++
	}
	assert.Equal(t, map[string]int{"a.py": 1, "b.py": 1, "c.py": 1}, names)
	assert.True(t, spawner.allExited(), "all workers reaped")
}

func TestDispatcherMoreWorkersThanTests(t *testing.T) {
	d, spawner := newTestDispatcher(t, 4, basicRegistry(t))

	results, err := d.Run(context.Background(), []string{"a.py", "b.py"}, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.True(t, spawner.allExited())
}

func TestDispatcherClassificationMatchesInline(t *testing.T) {
	tests := []string{"a.py", "b.py", "c.py"}

	inline, _ := newTestDispatcher(t, 0, basicRegistry(t))
	inlineResults, err := inline.Run(context.Background(), tests, nil)
	require.NoError(t, err)

	parallel, _ := newTestDispatcher(t, 2, basicRegistry(t))
	parallelResults, err := parallel.Run(context.Background(), tests, nil)
	require.NoError(t, err)

	assert.Equal(t, statuses(inlineResults), statuses(parallelResults))
}

func TestDispatcherMasterOnlyRunsLocally(t *testing.T) {
	// Workers know nothing about gui/run.py; only the master-side
	// registry does. A passing result proves the dispatcher ran it.
	workerReg := basicRegistry(t)
	masterReg := basicRegistry(t)
	require.NoError(t, masterReg.Register("gui/run.py", func(ctx context.Context, sc *executor.Scope) error {
		return nil
	}))

	restoreWd(t)
	spawner := &pipeSpawner{reg: workerReg, baseDir: t.TempDir()}
	d, err := NewDispatcher(DispatcherConfig{
		Workers: 2,
		Single: SingleConfig{
			Executor:     masterReg,
			Gate:         gating.New(),
			BaseDir:      spawner.baseDir,
			StrictPolicy: executor.DefaultStrictPolicy(),
		},
		Spawner: spawner,
	})
	require.NoError(t, err)

	results, err := d.Run(context.Background(), []string{"a.py", "gui/run.py", "b.py"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	m := statuses(results)
	assert.Equal(t, types.StatusOK, m["gui/run.py"])
	for _, r := range results {
		assert.NotEqual(t, types.StatusRunOnMaster, r.Status,
			"RUN_ON_MASTER must never reach the caller")
	}
}

func TestDispatcherAbortIsFatal(t *testing.T) {
	reg := basicRegistry(t)
	require.NoError(t, reg.Register("unsafe.py", func(ctx context.Context, sc *executor.Scope) error {
		sc.Gate.MarkUnsafeActive("plotting")
		return nil
	}))
	// One worker makes the schedule deterministic: a.py passes, then
	// unsafe.py aborts with two tests still unclaimed.
	d, spawner := newTestDispatcher(t, 1, reg)

	results, err := d.Run(context.Background(),
		[]string{"a.py", "unsafe.py", "b.py", "c.py"}, nil)

	require.Error(t, err)
	assert.True(t, IsAbort(err))
	require.Len(t, results, 2)
	assert.Equal(t, types.StatusOK, results[0].Status)
	assert.Equal(t, types.StatusAbort, results[1].Status)
	assert.True(t, spawner.allExited(), "workers terminated before the error propagates")
}

func TestDispatcherInterruptReturnsEarly(t *testing.T) {
	d, _ := newTestDispatcher(t, 2, basicRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := d.Run(ctx, []string{"a.py", "b.py", "c.py"}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, len(results), 3)
}
