package harness

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/molsim/suite-runner/flags"
	"github.com/molsim/suite-runner/gating"
)

// Config holds the application configuration
type Config struct {
	TestDir      string
	TestPatterns []string      // Positional glob patterns selecting a subset of tests
	Workers      int           // -1 auto, 0 inline, >0 fixed worker count
	Verbose      bool          // Stream test output while running
	Strict       bool          // Escalate non-exempt warnings to failures
	Backends     []string      // Optional backends enabled for this run
	List         bool          // List selected tests and exit
	ListBackends bool          // List known backends and exit
	RoutingFile  string        // Optional YAML routing table override
	Interpreter  string        // Interpreter for test scripts
	WorkDir      string        // Base directory for per-test working directories
	RunInterval  time.Duration // Interval between test runs
	RunOnce      bool          // Indicates if the service should exit after one test run
	LogDir       string        // Directory to store test logs
	Log          log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	testDir, err := filepath.Abs(ctx.String(flags.TestDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory: %w", err)
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory: %w", err)
	}

	logDir, err := filepath.Abs(ctx.String(flags.LogDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory: %w", err)
	}

	backends := ctx.StringSlice(flags.Backends.Name)
	for _, name := range backends {
		if !gating.Known(name) {
			return nil, fmt.Errorf("unknown backend %q, see --list-backends", name)
		}
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	return &Config{
		TestDir:      testDir,
		TestPatterns: ctx.Args().Slice(),
		Workers:      ctx.Int(flags.Jobs.Name),
		Verbose:      ctx.Bool(flags.Verbose.Name),
		Strict:       ctx.Bool(flags.Strict.Name),
		Backends:     backends,
		List:         ctx.Bool(flags.List.Name),
		ListBackends: ctx.Bool(flags.ListBackends.Name),
		RoutingFile:  ctx.String(flags.RoutingFile.Name),
		Interpreter:  ctx.String(flags.Interpreter.Name),
		WorkDir:      workDir,
		RunInterval:  runInterval,
		RunOnce:      runInterval == 0,
		LogDir:       logDir,
		Log:          logger,
	}, nil
}
