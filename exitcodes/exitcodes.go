// Package exitcodes defines the standard exit codes used by suite-runner.
package exitcodes

// The process exits with one of these codes:
//
// * Success (0): every executed test passed or was skipped
// * TestFailure (1): one or more tests failed or errored
// * RuntimeErr (2): the harness itself failed before a verdict was reached
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
