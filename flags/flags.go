package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "PARALLEL_COORDINATOR"

// prefixEnvVars prefixes an environment variable name with the service
// prefix.
func prefixEnvVars(name string) []string {
	return []string{fmt.Sprintf("%s_%s", EnvVarPrefix, name)}
}

var (
	PlanFile = &cli.StringFlag{
		Name:    "plan",
		Value:   "",
		EnvVars: prefixEnvVars("PLAN"),
		Usage:   "Path to the execution plan file (eg. 'plan.yaml') declaring workers, groups, resources, pools, and dependencies",
	}
	QuarantineFile = &cli.StringFlag{
		Name:    "quarantine-file",
		Value:   "test_quarantine.json",
		EnvVars: prefixEnvVars("QUARANTINE_FILE"),
		Usage:   "Path to the quarantine state file",
	}
	IsolationDir = &cli.StringFlag{
		Name:    "isolation-dir",
		Value:   "",
		EnvVars: prefixEnvVars("ISOLATION_DIR"),
		Usage:   "Base directory for per-worker isolated environments (defaults to the OS temp dir)",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   4,
		EnvVars: prefixEnvVars("CONCURRENCY"),
		Usage:   "Maximum number of tests executing at once across all workers",
	}
	Strategy = &cli.StringFlag{
		Name:    "strategy",
		Value:   "load_balanced",
		EnvVars: prefixEnvVars("STRATEGY"),
		Usage:   "Test distribution strategy: round_robin, load_balanced, capability_based, duration_optimized",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between plan runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	HealthInterval = &cli.DurationFlag{
		Name:    "health-interval",
		Value:   0,
		EnvVars: prefixEnvVars("HEALTH_INTERVAL"),
		Usage:   "Interval between resource pool health checks (default 30s)",
	}
	StatusAddr = &cli.StringFlag{
		Name:    "status-addr",
		Value:   "",
		EnvVars: prefixEnvVars("STATUS_ADDR"),
		Usage:   "Address for the status/metrics HTTP server (eg. ':8080'); empty disables it",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn, error",
	}
)

var requiredFlags = []cli.Flag{
	PlanFile,
}

var optionalFlags = []cli.Flag{
	QuarantineFile,
	IsolationDir,
	Concurrency,
	Strategy,
	RunInterval,
	HealthInterval,
	StatusAddr,
	LogLevel,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}
