package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// Spawner starts worker processes for the dispatcher.
type Spawner interface {
	Spawn(ctx context.Context, index int) (*workerHandle, error)
}

// workerHandle is the dispatcher's grip on one worker: the task pipe in,
// the result pipe out, a hard kill, and a reap that waits for the process
// to finish exiting.
type workerHandle struct {
	name string
	in   io.WriteCloser
	out  io.Reader

	killFn   func()
	waitFn   func() error
	reapOnce sync.Once
}

// NewWorkerHandle wires up a handle; kill must be a hard stop, wait must
// block until the worker has fully exited.
func NewWorkerHandle(name string, in io.WriteCloser, out io.Reader, kill func(), wait func() error) *workerHandle {
	return &workerHandle{name: name, in: in, out: out, killFn: kill, waitFn: wait}
}

func (w *workerHandle) decoder() *json.Decoder {
	return json.NewDecoder(w.out)
}

func (w *workerHandle) kill() {
	if w.killFn != nil {
		w.killFn()
	}
}

func (w *workerHandle) reap() {
	w.reapOnce.Do(func() {
		if w.waitFn != nil {
			if err := w.waitFn(); err != nil {
				log.Debug("Worker exited with error", "worker", w.name, "err", err)
			}
		}
	})
}

// ExecSpawner starts workers as OS processes by re-executing the harness
// binary with its hidden worker subcommand. Worker stderr is passed
// through, since worker stdout carries the result protocol.
type ExecSpawner struct {
	// Binary is the executable to run; defaults to the current binary.
	Binary string

	// Args are the subcommand and flags selecting worker mode, e.g.
	// {"worker", "--strict", "--testdir", dir}.
	Args []string

	// Stderr receives worker diagnostics; defaults to os.Stderr.
	Stderr io.Writer

	Log log.Logger
}

// SelfExec returns a spawner that re-executes the running binary with the
// given arguments.
func SelfExec(args []string, logger log.Logger) (*ExecSpawner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate own binary: %w", err)
	}
	return &ExecSpawner{Binary: self, Args: args, Log: logger}, nil
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, index int) (*workerHandle, error) {
	logger := s.Log
	if logger == nil {
		logger = log.Root()
	}

	name := fmt.Sprintf("test-worker-%d", index)

	// Deliberately not CommandContext: worker lifetime is managed
	// explicitly through kill and reap, and an interrupted run must not
	// kill workers that are already winding down on their own.
	cmd := exec.Command(s.Binary, s.Args...)
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open task pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open result pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	logger.Debug("Spawned worker", "worker", name, "pid", cmd.Process.Pid)

	kill := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return NewWorkerHandle(name, stdin, stdout, kill, cmd.Wait), nil
}
