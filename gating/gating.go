// Package gating decides which optional simulation backends a test run may
// use. Tests ask for a backend with Require; a disabled backend raises the
// skip signal instead of failing the test. The service is injected into the
// test body executor rather than toggled through global state, so each
// worker process carries its own independent gate.
package gating

import (
	"sort"
	"sync"

	"github.com/molsim/suite-runner/types"
)

// BuiltinBackends are analytic potentials with no external dependencies.
// They are always enabled and cannot be disabled.
var BuiltinBackends = []string{"emt", "lj", "eam", "morse", "tip3p"}

// OptionalBackends are backends that wrap an external code and must be
// enabled explicitly per run.
var OptionalBackends = []string{
	"abinit", "cp2k", "dftb", "elk", "espresso", "gromacs",
	"lammps", "nwchem", "octopus", "openmx", "siesta", "vasp",
}

// Known reports whether name is a builtin or optional backend.
func Known(name string) bool {
	for _, b := range BuiltinBackends {
		if b == name {
			return true
		}
	}
	for _, b := range OptionalBackends {
		if b == name {
			return true
		}
	}
	return false
}

// KnownBackends returns every backend name this build understands, sorted.
func KnownBackends() []string {
	names := make([]string, 0, len(BuiltinBackends)+len(OptionalBackends))
	names = append(names, BuiltinBackends...)
	names = append(names, OptionalBackends...)
	sort.Strings(names)
	return names
}

// Gate tracks which backends are enabled for a run, plus any fork-unsafe
// capabilities that became active as a byproduct of running a test.
type Gate struct {
	mu      sync.Mutex
	enabled map[string]bool
	unsafe  []string
}

// New returns a gate with the builtin backends plus the given extra names
// enabled.
func New(extra ...string) *Gate {
	g := &Gate{enabled: make(map[string]bool)}
	for _, name := range BuiltinBackends {
		g.enabled[name] = true
	}
	for _, name := range extra {
		g.enabled[name] = true
	}
	return g
}

// Enabled reports whether the named backend may be used.
func (g *Gate) Enabled(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled[name]
}

// EnabledBackends returns the enabled backend names, sorted.
func (g *Gate) EnabledBackends() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.enabled))
	for name := range g.enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require returns nil if the backend is enabled, otherwise the skip signal
// telling the user how to enable it.
func (g *Gate) Require(name string) error {
	if g.Enabled(name) {
		return nil
	}
	return types.Skip("use --backends=%s to enable", name)
}

// MarkUnsafeActive records that a fork-unsafe capability became active in
// this process. Worker processes check this after every test; a test that
// activates such a capability must run on master instead.
func (g *Gate) MarkUnsafeActive(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsafe = append(g.unsafe, name)
}

// UnsafeActive returns the first fork-unsafe capability activated in this
// process, or "" if none.
func (g *Gate) UnsafeActive() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.unsafe) == 0 {
		return ""
	}
	return g.unsafe[0]
}
