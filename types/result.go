// Package types holds the data model shared by the dispatcher, the worker
// processes and the reporter. Everything here crosses the process boundary
// as JSON, so fields are restricted to primitives.
package types

import (
	"strings"
	"time"
)

// Status classifies the outcome of one test execution attempt.
type Status string

const (
	StatusOK      Status = "OK"
	StatusFail    Status = "FAIL"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"

	// StatusAbort marks a fault in the harness itself, outside the
	// test-execution boundary. Always fatal to the run.
	StatusAbort Status = "ABORT"

	// StatusRunOnMaster is produced by a worker that refuses a test from
	// the master-only routing table. The dispatcher replaces it with a
	// locally executed result; callers never observe it.
	StatusRunOnMaster Status = "RUN_ON_MASTER"
)

// Failed reports whether the status counts against the run verdict.
func (s Status) Failed() bool {
	return s == StatusFail || s == StatusError
}

// Fatal reports whether the status must halt the whole run.
func (s Status) Fatal() bool {
	return s == StatusAbort
}

// Result is the outcome record for one test execution attempt. It is
// constructed exactly once by whichever process ran the test, transferred
// by value over the result queue, and never mutated after construction.
type Result struct {
	Name       string        `json:"name"`
	PID        int           `json:"pid"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Traceback  string        `json:"traceback,omitempty"`
	Duration   time.Duration `json:"duration"`
	WhySkipped string        `json:"whySkipped,omitempty"`
	Workdir    string        `json:"workdir,omitempty"`
}

// Seconds returns the elapsed wall-clock time in seconds, the unit used by
// the per-test report lines.
func (r *Result) Seconds() float64 {
	return r.Duration.Seconds()
}

// FaultCategory names the kind of fault for FAIL/ERROR/ABORT results,
// derived from the first line of the recorded error.
func (r *Result) FaultCategory() string {
	switch r.Status {
	case StatusFail:
		return "assertion"
	case StatusError:
		return "error"
	case StatusAbort:
		return "harness"
	}
	return ""
}

// ShortError returns the first line of the error summary.
func (r *Result) ShortError() string {
	msg, _, _ := strings.Cut(r.Error, "\n")
	return msg
}
