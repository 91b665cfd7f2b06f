package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/AlbertGroenwold/behave-framework-sub000/flags"
	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// Config holds the coordinator configuration
type Config struct {
	PlanFile       string         // Path to the execution plan YAML
	QuarantineFile string         // Quarantine state file
	IsolationDir   string         // Base directory for isolated environments
	Concurrency    int            // Global cap on simultaneously executing tests
	Strategy       types.Strategy // Test distribution strategy
	RunInterval    time.Duration  // Interval between plan runs
	RunOnce        bool           // Exit after a single plan run
	HealthInterval time.Duration  // Pool health check interval (0 = default)
	StatusAddr     string         // Status HTTP server address ("" = disabled)

	FailureThreshold   int           // Quarantine after this many failures (0 = default)
	SuccessThreshold   int           // Release after this many successes (0 = default)
	QuarantineDuration time.Duration // Release after this long regardless (0 = default)

	PollInterval time.Duration // Re-poll interval for blocked tests (0 = 50ms)
	StallTimeout time.Duration // Give up on a worker's blocked tests after this long without progress (0 = 30s)
	LockTTL      time.Duration // TTL applied to resource locks acquired for a test (0 = 5m)

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	planFile := ctx.String(flags.PlanFile.Name)
	if planFile == "" {
		return nil, errors.New("execution plan file is required")
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	cfg := &Config{
		PlanFile:       planFile,
		QuarantineFile: ctx.String(flags.QuarantineFile.Name),
		IsolationDir:   ctx.String(flags.IsolationDir.Name),
		Concurrency:    ctx.Int(flags.Concurrency.Name),
		Strategy:       types.Strategy(ctx.String(flags.Strategy.Name)),
		RunInterval:    runInterval,
		RunOnce:        runInterval == 0,
		HealthInterval: ctx.Duration(flags.HealthInterval.Name),
		StatusAddr:     ctx.String(flags.StatusAddr.Name),
		Log:            logger,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Log == nil {
		return errors.New("log is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown distribution strategy %q", c.Strategy)
	}
	return nil
}
