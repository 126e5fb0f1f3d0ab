// Package logging persists run output to disk: one directory per run with
// a rolling summary and a trace file for every failing test.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/molsim/suite-runner/reporting"
	"github.com/molsim/suite-runner/runner"
	"github.com/molsim/suite-runner/types"
)

// RunDirectoryPrefix is the standardized prefix for run directories.
const RunDirectoryPrefix = "testrun-"

// FileLogger mirrors the result stream into a per-run directory:
//
//	<baseDir>/testrun-<runID>/summary.log
//	<baseDir>/testrun-<runID>/failed/<workdir-name>.log
type FileLogger struct {
	baseDir   string
	runID     string
	runDir    string
	failedDir string

	mu      sync.Mutex
	summary *os.File
}

// NewFileLogger creates the run directory tree and opens the summary file.
func NewFileLogger(baseDir, runID string) (*FileLogger, error) {
	runDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(runDir, "failed")
	if err := os.MkdirAll(failedDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	summary, err := os.Create(filepath.Join(runDir, "summary.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to create summary file: %w", err)
	}

	return &FileLogger{
		baseDir:   baseDir,
		runID:     runID,
		runDir:    runDir,
		failedDir: failedDir,
		summary:   summary,
	}, nil
}

// RunDir returns the directory this run logs into.
func (l *FileLogger) RunDir() string {
	return l.runDir
}

// Consume appends one result to the summary and, for failing statuses,
// writes its trace file.
func (l *FileLogger) Consume(res *types.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := fmt.Fprintln(l.summary, reporting.FormatLine(res)); err != nil {
		return fmt.Errorf("failed to append to summary: %w", err)
	}

	if !res.Status.Failed() && !res.Status.Fatal() {
		return nil
	}

	name := runner.WorkdirName(res.Name)
	if name == "" {
		name = "harness"
	}
	path := filepath.Join(l.failedDir, name+".log")
	body := fmt.Sprintf("Test: %s\nStatus: %s\nPid: %d\nWorkdir: %s\nError: %s\n\n%s\n",
		res.Name, res.Status, res.PID, res.Workdir, res.Error, res.Traceback)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	return nil
}

// Complete appends the final totals and closes the summary file.
func (l *FileLogger) Complete(s reporting.Summary) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := fmt.Fprintf(l.summary,
		"\ntests=%d passes=%d failures=%d errors=%d skipped=%d passed=%t\n",
		s.Total(), len(s.OK), len(s.Failed), len(s.Errored), len(s.Skipped), s.Passed())
	if err != nil {
		return fmt.Errorf("failed to finalize summary: %w", err)
	}
	return l.summary.Close()
}
