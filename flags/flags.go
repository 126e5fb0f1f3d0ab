package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "SUITE_RUNNER"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: prefixEnvVars("TESTDIR"),
		Usage:   "Path to the test directory from which to discover tests",
	}
	Jobs = &cli.IntFlag{
		Name:    "jobs",
		Aliases: []string{"j"},
		Value:   -1,
		EnvVars: prefixEnvVars("JOBS"),
		Usage:   "Number of worker processes. -1 picks one per CPU, 0 runs everything in-process.",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Value:   false,
		EnvVars: prefixEnvVars("VERBOSE"),
		Usage:   "Stream test output while tests run",
	}
	Strict = &cli.BoolFlag{
		Name:    "strict",
		Value:   false,
		EnvVars: prefixEnvVars("STRICT"),
		Usage:   "Fail tests that emit non-exempt warnings",
	}
	Backends = &cli.StringSliceFlag{
		Name:    "backends",
		Aliases: []string{"c"},
		EnvVars: prefixEnvVars("BACKENDS"),
		Usage:   "Comma-separated optional backends to enable (eg. 'lammps,openmx')",
	}
	List = &cli.BoolFlag{
		Name:    "list",
		Value:   false,
		EnvVars: prefixEnvVars("LIST"),
		Usage:   "List the selected tests and exit without running them",
	}
	ListBackends = &cli.BoolFlag{
		Name:    "list-backends",
		Value:   false,
		EnvVars: prefixEnvVars("LIST_BACKENDS"),
		Usage:   "List the known backends and exit",
	}
	RoutingFile = &cli.StringFlag{
		Name:    "routing",
		Value:   "",
		EnvVars: prefixEnvVars("ROUTING"),
		Usage:   "Path to a YAML routing table overriding the built-in master-only list",
	}
	Interpreter = &cli.StringFlag{
		Name:    "interpreter",
		Value:   "python3",
		EnvVars: prefixEnvVars("INTERPRETER"),
		Usage:   "Interpreter used to execute test scripts",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: prefixEnvVars("WORKDIR"),
		Usage:   "Base directory for per-test working directories",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVars("LOGDIR"),
		Usage:   "Directory to store per-run test logs",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	Jobs,
	Verbose,
	Strict,
	Backends,
	List,
	ListBackends,
	RoutingFile,
	Interpreter,
	WorkDir,
	RunInterval,
	LogDir,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
