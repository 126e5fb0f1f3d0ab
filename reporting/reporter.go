// Package reporting formats per-test report lines and the end-of-run
// summary. Lines stream as results arrive; the summary renders once the
// run is over.
package reporting

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/molsim/suite-runner/types"
)

const blockDelimiter = 78

// Reporter writes the human-readable run report.
type Reporter struct {
	w io.Writer
}

// NewReporter returns a reporter writing to w, defaulting to stdout.
func NewReporter(w io.Writer) *Reporter {
	if w == nil {
		w = os.Stdout
	}
	return &Reporter{w: w}
}

// FormatLine renders the one-line report for a result.
func FormatLine(res *types.Result) string {
	msg := string(res.Status)
	if res.Status == types.StatusSkipped {
		msg = fmt.Sprintf("SKIPPED: %s", res.WhySkipped)
	}
	return fmt.Sprintf("%-36s %6.2fs %s", res.Name, res.Seconds(), msg)
}

// PrintResult streams one result: the report line, plus the delimited
// trace block for results that carry a traceback.
func (r *Reporter) PrintResult(res *types.Result) {
	fmt.Fprintln(r.w, FormatLine(res))
	if res.Traceback == "" {
		return
	}
	rule := strings.Repeat("=", blockDelimiter)
	fmt.Fprintln(r.w, rule)
	fmt.Fprintf(r.w, "Error in %s on pid %d:\n", res.Name, res.PID)
	fmt.Fprintf(r.w, "Workdir: %s\n", res.Workdir)
	fmt.Fprintln(r.w, strings.TrimRight(res.Traceback, "\n"))
	fmt.Fprintln(r.w, rule)
}

// Summary partitions a run's results by status.
type Summary struct {
	OK      []*types.Result
	Failed  []*types.Result
	Errored []*types.Result
	Skipped []*types.Result
	Aborted []*types.Result
}

// Summarize partitions results by status.
func Summarize(results []*types.Result) Summary {
	var s Summary
	for _, res := range results {
		switch res.Status {
		case types.StatusOK:
			s.OK = append(s.OK, res)
		case types.StatusFail:
			s.Failed = append(s.Failed, res)
		case types.StatusError:
			s.Errored = append(s.Errored, res)
		case types.StatusSkipped:
			s.Skipped = append(s.Skipped, res)
		case types.StatusAbort:
			s.Aborted = append(s.Aborted, res)
		}
	}
	return s
}

// Total returns the number of partitioned results.
func (s Summary) Total() int {
	return len(s.OK) + len(s.Failed) + len(s.Errored) + len(s.Skipped) + len(s.Aborted)
}

// Passed is the run verdict: false if anything failed or errored. This
// boolean is the sole contract the harness exposes for mapping a run to a
// process exit status.
func (s Summary) Passed() bool {
	return len(s.Failed) == 0 && len(s.Errored) == 0
}

// PrintSummary renders the end-of-run summary: every failing test with its
// fault category and message, the per-status totals, and the verdict.
func (r *Reporter) PrintSummary(s Summary) {
	if len(s.Failed) > 0 || len(s.Errored) > 0 {
		fmt.Fprintln(r.w)
		fmt.Fprintln(r.w, "Failures and errors:")
		for _, res := range append(append([]*types.Result{}, s.Errored...), s.Failed...) {
			fmt.Fprintf(r.w, "%s: %s: %s\n", res.Name, res.FaultCategory(), res.ShortError())
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetTitle("Summary")
	t.AppendRows([]table.Row{
		{"Number of tests", s.Total()},
		{"Passes", len(s.OK)},
		{"Failures", len(s.Failed)},
		{"Errors", len(s.Errored)},
		{"Skipped", len(s.Skipped)},
	})
	t.Render()

	if s.Passed() {
		fmt.Fprintln(r.w, "Test suite passed!")
	} else {
		fmt.Fprintln(r.w, "Test suite failed!")
	}
}
