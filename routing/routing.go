// Package routing holds the master-only allow-list: tests that are unsafe
// to run in a forked worker process and must execute in the dispatcher's
// own process instead.
package routing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TableVersion is the format version written by DefaultTable and expected
// from override files.
const TableVersion = 1

// defaultMasterOnly lists tests known to misbehave in worker processes:
// plotting tests deadlock after fork, doctest-style faults do not survive
// the queue, and the pubchem test trips remote rate limits when forked.
var defaultMasterOnly = []string{
	"bandstructure.py",
	"bandstructure_many.py",
	"doctests.py",
	"gui/run.py",
	"matplotlib_plot.py",
	"fio/oi.py",
	"fio/v_sim.py",
	"forcecurve.py",
	"neb.py",
	"fio/animate.py",
	"db/db_web.py",
	"x3d.py",
	"pubchem.py",
}

// Table is an explicit, versioned master-only allow-list. Lookups
// normalize path-separator style, so Windows-style identifiers match their
// slash-separated entries.
type Table struct {
	Version int
	tests   map[string]struct{}
}

// tableFile is the YAML form of a Table override.
type tableFile struct {
	Version int      `yaml:"version"`
	Tests   []string `yaml:"tests"`
}

// NewTable builds a table from the given identifiers.
func NewTable(version int, tests []string) *Table {
	t := &Table{Version: version, tests: make(map[string]struct{}, len(tests))}
	for _, name := range tests {
		t.tests[Normalize(name)] = struct{}{}
	}
	return t
}

// DefaultTable returns the built-in allow-list.
func DefaultTable() *Table {
	return NewTable(TableVersion, defaultMasterOnly)
}

// LoadTable reads an allow-list override from a YAML file.
func LoadTable(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing table: %w", err)
	}
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse routing table %s: %w", path, err)
	}
	if file.Version != TableVersion {
		return nil, fmt.Errorf("unsupported routing table version %d in %s (want %d)",
			file.Version, path, TableVersion)
	}
	return NewTable(file.Version, file.Tests), nil
}

// Normalize converts an identifier to the canonical slash-separated form
// used for lookups.
func Normalize(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// RunOnMaster reports whether the identifier must execute in the
// dispatcher's process.
func (t *Table) RunOnMaster(name string) bool {
	_, ok := t.tests[Normalize(name)]
	return ok
}

// Tests returns the number of entries in the table.
func (t *Table) Tests() int {
	return len(t.tests)
}
