// Package discovery enumerates test files under a test directory. A test
// identifier is the file path relative to that directory; identifiers are
// the keys the whole harness operates on.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultSuffix is the file suffix that marks a test file.
const DefaultSuffix = ".py"

// Config holds discovery parameters.
type Config struct {
	TestDir string
	Suffix  string // defaults to DefaultSuffix
	Log     log.Logger
}

// Discover returns all test identifiers under cfg.TestDir in deterministic
// order: top-level files sorted first, then files from one subdirectory
// level, also sorted. Deeper nesting is not scanned. Files whose base name
// ends in "__" before the suffix are excluded.
func Discover(cfg Config) ([]string, error) {
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}

	entries, err := os.ReadDir(cfg.TestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read test directory: %w", err)
	}

	var tests, subdirTests []string
	for _, entry := range entries {
		if entry.IsDir() {
			subEntries, err := os.ReadDir(filepath.Join(cfg.TestDir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read test subdirectory %s: %w", entry.Name(), err)
			}
			for _, sub := range subEntries {
				if sub.IsDir() || !isTestFile(sub.Name(), suffix) {
					continue
				}
				subdirTests = append(subdirTests, filepath.ToSlash(
					filepath.Join(entry.Name(), sub.Name())))
			}
			continue
		}
		if isTestFile(entry.Name(), suffix) {
			tests = append(tests, entry.Name())
		}
	}

	sort.Strings(tests)
	sort.Strings(subdirTests)
	// Subdirectory tests run at the end.
	tests = append(tests, subdirTests...)

	logger.Debug("Discovered tests", "dir", cfg.TestDir, "count", len(tests))
	return tests, nil
}

// Select resolves explicit test arguments against the test directory. Each
// argument may be a glob pattern; an argument matching nothing is an error.
// The result preserves discovery ordering and contains no duplicates.
func Select(cfg Config, args []string) ([]string, error) {
	all, err := Discover(cfg)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool)
	for _, arg := range args {
		pattern := filepath.ToSlash(arg)
		matched := false
		for _, test := range all {
			ok, err := filepath.Match(pattern, test)
			if err != nil {
				return nil, fmt.Errorf("bad test pattern %q: %w", arg, err)
			}
			if ok || test == pattern {
				wanted[test] = true
				matched = true
			}
		}
		if !matched {
			return nil, fmt.Errorf("no such test: %s", arg)
		}
	}

	var selected []string
	for _, test := range all {
		if wanted[test] {
			selected = append(selected, test)
		}
	}
	return selected, nil
}

func isTestFile(name, suffix string) bool {
	if !strings.HasSuffix(name, suffix) {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(name, suffix), "__")
}
