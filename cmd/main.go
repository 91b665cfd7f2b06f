package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	coordinator "github.com/AlbertGroenwold/behave-framework-sub000"
	"github.com/AlbertGroenwold/behave-framework-sub000/flags"
	"github.com/AlbertGroenwold/behave-framework-sub000/service"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "parallel-coordinator"
	app.Usage = "Parallel Test Execution Coordinator"
	app.Description = "Runs test execution plans across workers with resource locking, dependency ordering, isolation, and quarantine"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if coordinator.IsRuntimeError(err) {
				// Runtime errors exit with code 2.
				cli.HandleExitCoder(cli.Exit(err.Error(), 2))
			} else {
				// Test failures and unspecified errors exit with code 1.
				cli.HandleExitCoder(cli.Exit(err.Error(), 1))
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(ctx *cli.Context) error {
	logger, err := newLogger(ctx.String(flags.LogLevel.Name))
	if err != nil {
		return coordinator.NewRuntimeError(err)
	}
	log.SetDefault(logger)

	cfg, err := coordinator.NewConfig(ctx, logger)
	if err != nil {
		return coordinator.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	c, err := coordinator.New(cfg)
	if err != nil {
		return coordinator.NewRuntimeError(fmt.Errorf("failed to create coordinator: %w", err))
	}
	c.Start()
	defer c.Stop()

	plan, err := coordinator.LoadPlan(cfg.PlanFile)
	if err != nil {
		return err
	}
	executors := plan.Executors(logger)

	if cfg.StatusAddr != "" {
		svc := service.New(c)
		svc.Start(ctx.Context)
		defer svc.Shutdown()
	}

	sched := coordinator.NewIntervalScheduler(cfg.RunInterval, cfg.RunOnce, logger)
	sched.RegisterCallback(func() error {
		result, err := c.RunTests(ctx.Context, plan, executors)
		if err != nil {
			return err
		}
		if result.Failures() {
			err := coordinator.NewTestFailureError(fmt.Sprintf("%d of %d tests failed", result.Failed, result.Executed))
			if cfg.RunOnce {
				return err
			}
			logger.Error("Scheduled run had failures", "error", err)
		}
		return nil
	})

	if err := sched.Start(ctx.Context); err != nil {
		return err
	}
	if cfg.RunOnce {
		return nil
	}

	<-ctx.Context.Done()
	if err := sched.Stop(); err != nil {
		logger.Error("Error stopping scheduler", "error", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return sched.WaitForShutdown(shutdownCtx)
}

func newLogger(level string) (log.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "trace":
		lvl = log.LevelTrace
	case "debug":
		lvl = log.LevelDebug
	case "info":
		lvl = log.LevelInfo
	case "warn":
		lvl = log.LevelWarn
	case "error":
		lvl = log.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)), nil
}
