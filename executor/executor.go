// Package executor defines the test body executor collaborator: the thing
// that actually runs the content of one test, given its identifier. The
// dispatch core only depends on the outcome vocabulary (nil, skip signal,
// assertion failure, exit request, fault, cancellation); how a body is
// executed is an implementation detail behind the Executor interface.
package executor

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/molsim/suite-runner/gating"
)

// Executor runs the body of one test.
//
// A nil return means normal completion. Every other outcome is reported as
// an error: *types.SkipError, *types.FailError, *types.ExitError, a
// context error for cancellation, or anything else for an uncaught fault.
// Panics inside the body are the caller's problem; the single-test runner
// recovers them.
type Executor interface {
	Execute(ctx context.Context, name string, sc *Scope) error
}

// Scope is what a test body gets to interact with its harness: an output
// sink (discarded unless the run is verbose), a warning recorder, and the
// backend gating service.
type Scope struct {
	Output   io.Writer
	Warnings *Recorder
	Gate     *gating.Gate
}

// NewScope returns a scope writing to out with a fresh warning recorder.
func NewScope(out io.Writer, gate *gating.Gate) *Scope {
	if out == nil {
		out = io.Discard
	}
	return &Scope{Output: out, Warnings: NewRecorder(), Gate: gate}
}

// Warnf records a warning against the scope.
func (sc *Scope) Warnf(category WarningCategory, format string, args ...any) {
	sc.Warnings.Warn(category, fmt.Sprintf(format, args...))
}

// TestFunc is an in-process test body.
type TestFunc func(ctx context.Context, sc *Scope) error

// Registry is an Executor over in-process Go test bodies, keyed by
// identifier. It backs embedded suites and the harness's own tests.
type Registry struct {
	mu    sync.RWMutex
	tests map[string]TestFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tests: make(map[string]TestFunc)}
}

// Register adds a test body under the given identifier.
func (r *Registry) Register(name string, fn TestFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tests[name]; ok {
		return fmt.Errorf("test %q already registered", name)
	}
	r.tests[name] = fn
	return nil
}

// Names returns the registered identifiers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tests))
	for name := range r.tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements Executor.
func (r *Registry) Execute(ctx context.Context, name string, sc *Scope) error {
	r.mu.RLock()
	fn, ok := r.tests[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown test %q", name)
	}
	return fn(ctx, sc)
}
