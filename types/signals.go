package types

import "fmt"

// The errors below are the complete outcome vocabulary a test body executor
// may surface. The single-test runner maps them onto statuses; any error
// not in this set is classified as StatusError.

// SkipError is the skip signal: the test opted out and carries a reason,
// which is preserved verbatim on the Result.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skipped: %s", e.Reason)
}

// Skip returns a skip signal with the given reason.
func Skip(format string, args ...any) *SkipError {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Traced is implemented by errors that carry captured trace text, shown in
// the delimited block under a failing test's report line.
type Traced interface {
	Trace() string
}

// FailError is an assertion-style failure: a condition inside the test or
// the system under test was violated.
type FailError struct {
	Msg       string
	TraceText string
}

func (e *FailError) Error() string {
	return e.Msg
}

func (e *FailError) Trace() string {
	return e.TraceText
}

// Failf returns an assertion failure with a formatted message.
func Failf(format string, args ...any) *FailError {
	return &FailError{Msg: fmt.Sprintf(format, args...)}
}

// ExitError is a program-termination request from the test body. Code 0
// maps to StatusOK, anything else to StatusFail.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("test requested exit with code %d", e.Code)
}

// Exit returns a termination request with the given code.
func Exit(code int) *ExitError {
	return &ExitError{Code: code}
}
