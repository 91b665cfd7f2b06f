// Package coordinator composes the resource, dependency, isolation,
// quarantine, pool, distribution, and reporting managers into a single
// parallel test-execution coordinator.
package coordinator

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/AlbertGroenwold/behave-framework-sub000/deps"
	"github.com/AlbertGroenwold/behave-framework-sub000/distribution"
	"github.com/AlbertGroenwold/behave-framework-sub000/isolation"
	"github.com/AlbertGroenwold/behave-framework-sub000/locks"
	"github.com/AlbertGroenwold/behave-framework-sub000/metrics"
	"github.com/AlbertGroenwold/behave-framework-sub000/pool"
	"github.com/AlbertGroenwold/behave-framework-sub000/quarantine"
	"github.com/AlbertGroenwold/behave-framework-sub000/reporting"
)

// TestFunc is the test-executor contract: a zero-argument callable
// returning a success flag. Panics are caught by the coordinator,
// converted to a failure result, and recorded with the quarantine
// manager.
type TestFunc func() bool

// Coordinator owns one instance of every manager and exposes the
// combined admission-control and execution surface. Construct it once
// per process and pass it by reference; there is no package-level
// instance.
type Coordinator struct {
	cfg *Config

	Locks        *locks.Manager
	Deps         *deps.Manager
	Isolation    *isolation.Manager
	Quarantine   *quarantine.Manager
	Pools        *pool.Manager
	Distribution *distribution.Manager
	Reporting    *reporting.Manager

	// envMu serializes process-environment mutation: the environment is
	// process-global, so applying one worker's variables must not
	// interleave with another's.
	envMu sync.Mutex

	// planMu guards the per-test resource requirements of the most
	// recently applied plan.
	planMu        sync.Mutex
	resourceNeeds map[string][]string

	log log.Logger
}

// New creates a coordinator and all of its managers. Background loops
// (pool health monitor, reporting consumer) are not running until Start.
func New(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		return nil, NewRuntimeError(fmt.Errorf("config is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewRuntimeError(err)
	}

	logger := cfg.Log

	isolationMgr, err := isolation.NewManager(cfg.IsolationDir, logger)
	if err != nil {
		return nil, NewRuntimeError(fmt.Errorf("creating isolation manager: %w", err))
	}

	c := &Coordinator{
		cfg:       cfg,
		Locks:     locks.NewManager(logger),
		Deps:      deps.NewManager(logger),
		Isolation: isolationMgr,
		Quarantine: quarantine.NewManager(quarantine.Config{
			StateFile:          cfg.QuarantineFile,
			FailureThreshold:   cfg.FailureThreshold,
			SuccessThreshold:   cfg.SuccessThreshold,
			QuarantineDuration: cfg.QuarantineDuration,
			Log:                logger,
		}),
		Pools:        pool.NewManager(logger),
		Distribution: distribution.NewManager(logger),
		Reporting:    reporting.NewManager(logger),
		log:          logger.New("component", "coordinator"),
	}
	return c, nil
}

// Start launches the background loops.
func (c *Coordinator) Start() {
	c.Pools.StartHealthMonitoring(c.cfg.HealthInterval)
	c.Reporting.Start()
	c.log.Info("Coordinator started")
}

// Stop stops the background loops and tears down all isolated
// environments.
func (c *Coordinator) Stop() {
	c.Pools.StopHealthMonitoring()
	c.Reporting.Stop()
	c.Isolation.CleanupAll()
	c.log.Info("Coordinator stopped")
}

// CanExecuteTest reports whether a test may run on a worker right now:
// not quarantined, dependencies satisfied, and no required resource held
// by a different worker.
func (c *Coordinator) CanExecuteTest(testID, workerID string, requiredResources []string) bool {
	if c.Quarantine.IsTestQuarantined(testID) {
		c.log.Debug("Test is quarantined", "test", testID)
		return false
	}
	if !c.Deps.CanExecuteTest(testID) {
		c.log.Debug("Test has unmet dependencies", "test", testID)
		return false
	}
	for _, resourceID := range requiredResources {
		if holder := c.Locks.LockHolder(resourceID); holder != "" && holder != workerID {
			c.log.Debug("Required resource is held", "test", testID, "resource", resourceID, "holder", holder)
			return false
		}
	}
	return true
}

// ExecuteTestWithIsolation runs one test on a worker: acquires the
// required resource locks (rolling back partial acquisition), marks the
// test running, applies the worker's isolated environment variables for
// the duration of the callback, classifies the outcome (a panic in the
// callback is a failure, never propagated), then releases resources,
// marks completion, and records the result with the quarantine manager.
// The lockTimeout is applied as the TTL for each acquired lock.
func (c *Coordinator) ExecuteTestWithIsolation(testID, workerID string, fn TestFunc, requiredResources []string, lockTimeout time.Duration) bool {
	ran, success := c.tryExecute(testID, workerID, fn, requiredResources, lockTimeout)
	return ran && success
}

// tryExecute distinguishes admission refusal (ran=false: quarantined,
// blocked, or resources unavailable) from an executed test's outcome.
func (c *Coordinator) tryExecute(testID, workerID string, fn TestFunc, requiredResources []string, lockTimeout time.Duration) (ran, passed bool) {
	if !c.CanExecuteTest(testID, workerID, requiredResources) {
		return false, false
	}

	var acquired []string
	for _, resourceID := range requiredResources {
		if c.Locks.AcquireLock(resourceID, workerID, lockTimeout) {
			acquired = append(acquired, resourceID)
			continue
		}
		metrics.RecordLockContention(resourceID)
		for _, got := range acquired {
			c.Locks.ReleaseLock(got, workerID)
		}
		c.log.Debug("Could not acquire required resources", "test", testID, "resource", resourceID)
		return false, false
	}

	c.Deps.MarkTestStarted(testID)

	success, failureReason := c.runIsolated(testID, workerID, fn)

	for _, resourceID := range acquired {
		c.Locks.ReleaseLock(resourceID, workerID)
	}
	c.Deps.MarkTestCompleted(testID, success)
	c.Quarantine.RecordTestResult(testID, testID, success, failureReason)

	return true, success
}

// runIsolated invokes the callback with the worker's environment
// variables applied, restoring prior values afterward even when the
// callback panics.
func (c *Coordinator) runIsolated(testID, workerID string, fn TestFunc) (success bool, failureReason string) {
	defer func() {
		if r := recover(); r != nil {
			success = false
			failureReason = fmt.Sprintf("panic: %v", r)
			c.log.Error("Test panicked", "test", testID, "worker", workerID, "panic", r)
		}
	}()

	env := c.Isolation.WorkerEnvironment(workerID)
	if env == nil {
		return fn(), ""
	}

	c.envMu.Lock()
	restore := applyEnv(env.EnvironmentVariables)
	defer func() {
		restore()
		c.envMu.Unlock()
	}()

	return fn(), ""
}

// applyEnv sets the given variables and returns a function restoring the
// previous values (unsetting variables that did not exist).
func applyEnv(vars map[string]string) func() {
	type prior struct {
		value  string
		exists bool
	}
	old := make(map[string]prior, len(vars))
	for k, v := range vars {
		prev, ok := os.LookupEnv(k)
		old[k] = prior{value: prev, exists: ok}
		os.Setenv(k, v)
	}
	return func() {
		for k, p := range old {
			if p.exists {
				os.Setenv(k, p.value)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

// GetRunnableTests filters the given ids down to those neither
// quarantined nor blocked by dependencies.
func (c *Coordinator) GetRunnableTests(available []string) []string {
	notQuarantined := make([]string, 0, len(available))
	for _, id := range available {
		if !c.Quarantine.IsTestQuarantined(id) {
			notQuarantined = append(notQuarantined, id)
		}
	}
	return c.Deps.GetRunnableTests(notQuarantined)
}

// CleanupWorker releases every lock still held by the worker and tears
// down its isolated environment. Used when a worker crashes or finishes
// its batch.
func (c *Coordinator) CleanupWorker(workerID string) {
	status := c.Locks.GetLockStatus()
	for resourceID, rs := range status.Resources {
		if rs.LockedBy == workerID {
			c.Locks.ReleaseLock(resourceID, workerID)
		}
	}

	if env := c.Isolation.WorkerEnvironment(workerID); env != nil {
		c.Isolation.CleanupEnvironment(env.EnvironmentID)
	}

	c.log.Info("Cleaned up worker", "worker", workerID)
}

// GetStatusReport returns the combined status of all managers as a
// JSON-serializable map. Side-effect-free read.
func (c *Coordinator) GetStatusReport() map[string]any {
	return map[string]any{
		"lock_manager": c.Locks.GetLockStatus(),
		"dependency_manager": map[string]any{
			"dependency_graph":      c.Deps.DependencyGraph(),
			"circular_dependencies": c.Deps.DetectCircularDependencies(),
		},
		"environment_manager": map[string]any{
			"active_environments": c.Isolation.ActiveEnvironments(),
		},
		"quarantine_manager": map[string]any{
			"quarantined_tests":   len(c.Quarantine.QuarantinedTests()),
			"total_tracked_tests": c.Quarantine.TrackedTests(),
		},
		"resource_pools": c.Pools.GetAllPoolStatus(),
		"workers":        c.Distribution.Workers(),
	}
}
