package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	harness "github.com/molsim/suite-runner"
	"github.com/molsim/suite-runner/exitcodes"
	"github.com/molsim/suite-runner/executor"
	"github.com/molsim/suite-runner/flags"
	"github.com/molsim/suite-runner/gating"
	"github.com/molsim/suite-runner/routing"
	"github.com/molsim/suite-runner/runner"
	"github.com/molsim/suite-runner/service"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "suite-runner"
	app.Usage = "Parallel test suite runner"
	app.Description = "suite-runner discovers test scripts and runs them across isolated worker processes"
	app.Flags = flags.Flags
	app.Action = run
	app.Commands = []*cli.Command{
		workerCommand(),
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if harness.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if harness.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	logger := setupLogger(cliCtx.Bool(flags.Verbose.Name))

	cfg, err := harness.NewConfig(cliCtx, logger)
	if err != nil {
		return harness.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	// Tracing exports only when an OTLP endpoint is configured; local runs
	// stay untraced.
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		otelShutdown, otelErr := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithServiceName("suite-runner"),
			otelconfig.WithServiceVersion(Version),
		)
		if otelErr != nil {
			return harness.NewRuntimeError(fmt.Errorf("failed to set up telemetry: %w", otelErr))
		}
		defer otelShutdown()
	}

	appCtx, appCancel := context.WithCancelCause(cliCtx.Context)
	defer appCancel(nil)

	svc := service.New()
	svc.Start(appCtx)
	defer svc.Shutdown()

	h, err := harness.New(appCtx, cfg, Version, func(cause error) {
		appCancel(cause)
	})
	if err != nil {
		return harness.NewRuntimeError(fmt.Errorf("failed to create harness: %w", err))
	}

	if err := h.Start(appCtx); err != nil {
		return err
	}

	<-appCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = h.Stop(stopCtx)

	if cause := context.Cause(appCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// workerCommand is the hidden subcommand the dispatcher re-executes this
// binary with. It reads tasks from stdin and writes results to stdout, so
// all diagnostics go to stderr.
func workerCommand() *cli.Command {
	return &cli.Command{
		Name:   "worker",
		Hidden: true,
		Flags: []cli.Flag{
			flags.TestDir,
			flags.Interpreter,
			flags.WorkDir,
			flags.Verbose,
			flags.Strict,
			flags.Backends,
			flags.RoutingFile,
		},
		Action: runWorker,
	}
}

func runWorker(cliCtx *cli.Context) error {
	logger := setupLogger(cliCtx.Bool(flags.Verbose.Name))

	table := routing.DefaultTable()
	if path := cliCtx.String(flags.RoutingFile.Name); path != "" {
		var err error
		table, err = routing.LoadTable(path)
		if err != nil {
			return fmt.Errorf("failed to load routing table: %w", err)
		}
	}

	cfg := runner.WorkerConfig{
		Single: runner.SingleConfig{
			Executor: &executor.ScriptExecutor{
				TestDir:     cliCtx.String(flags.TestDir.Name),
				Interpreter: []string{cliCtx.String(flags.Interpreter.Name)},
			},
			Gate:    gating.New(cliCtx.StringSlice(flags.Backends.Name)...),
			BaseDir: cliCtx.String(flags.WorkDir.Name),
			Verbose: cliCtx.Bool(flags.Verbose.Name),
			Strict:  cliCtx.Bool(flags.Strict.Name),
			Stdout:  os.Stderr,
		},
		Routing: table,
		Log:     logger,
	}

	return runner.WorkerLoop(cliCtx.Context, cfg, os.Stdin, os.Stdout)
}

func setupLogger(verbose bool) log.Logger {
	level := log.LevelInfo
	if verbose {
		level = log.LevelDebug
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false))
	log.SetDefault(logger)
	return logger
}
