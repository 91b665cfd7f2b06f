package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/AlbertGroenwold/behave-framework-sub000/metrics"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultStallTimeout = 30 * time.Second
	defaultLockTTL      = 5 * time.Minute
)

// SkipReason explains why a test was not executed during a run.
type SkipReason string

const (
	SkipQuarantined SkipReason = "quarantined"
	SkipBlocked     SkipReason = "dependencies or resources never became available"
	SkipCancelled   SkipReason = "run cancelled"
	SkipNoExecutor  SkipReason = "no executor registered"
)

// RunResult summarizes one plan run.
type RunResult struct {
	ExecutionID string
	Total       int
	Executed    int
	Passed      int
	Failed      int
	Skipped     map[string]SkipReason
	Duration    time.Duration
	Report      map[string]any
}

// Failures reports whether any executed test failed.
func (r *RunResult) Failures() bool {
	return r.Failed > 0
}

func (r *RunResult) String() string {
	return fmt.Sprintf("execution %s: %d total, %d passed, %d failed, %d skipped in %s",
		r.ExecutionID, r.Total, r.Passed, r.Failed, len(r.Skipped), r.Duration.Round(time.Millisecond))
}

// RunTests executes every test in the plan across the plan's workers.
// It applies the plan to the managers, distributes tests using the
// configured strategy, and runs one goroutine per worker, each draining
// its assignment in rounds: runnable tests execute (bounded globally by
// the concurrency semaphore), blocked tests are re-polled until they
// become runnable or the worker makes no progress for the stall timeout.
// Executors maps test ids to their callbacks; tests without an executor
// are skipped.
func (c *Coordinator) RunTests(ctx context.Context, plan *Plan, executors map[string]TestFunc) (*RunResult, error) {
	if err := c.applyPlan(plan); err != nil {
		return nil, err
	}

	// Advisory only: cycles are reported, not vetoed.
	if cycles := c.Deps.DetectCircularDependencies(); len(cycles) > 0 {
		c.log.Warn("Execution plan contains circular dependencies", "cycles", cycles)
	}

	assignments, err := c.Distribution.DistributeTests(c.cfg.Strategy)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	executionID := uuid.New().String()
	testIDs := plan.TestIDs()
	start := time.Now()

	c.Reporting.StartExecutionTracking(executionID, len(testIDs), len(plan.Workers))
	c.log.Info("Starting parallel test execution",
		"execution", executionID, "totalTests", len(testIDs), "workers", len(plan.Workers), "strategy", c.cfg.Strategy)

	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency))

	result := &RunResult{
		ExecutionID: executionID,
		Total:       len(testIDs),
		Skipped:     make(map[string]SkipReason),
	}
	var resultMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range plan.Workers {
		workerID := worker.WorkerID
		assigned := assignments[workerID]
		metrics.RecordWorkerLoad(workerID, len(assigned))
		g.Go(func() error {
			return c.runWorker(gctx, executionID, workerID, assigned, executors, sem, result, &resultMu)
		})
	}

	err = g.Wait()

	result.Duration = time.Since(start)

	// Completions are folded asynchronously; drain the queue so the
	// consolidated report and the table see every result.
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if flushErr := c.Reporting.Flush(flushCtx); flushErr != nil {
		c.log.Warn("Reporting queue was not fully drained", "error", flushErr)
	}
	result.Report = c.Reporting.GenerateConsolidatedReport(executionID)

	for poolID, st := range c.Pools.GetAllPoolStatus() {
		metrics.RecordPoolUtilization(poolID, st.UtilizationRate)
	}

	c.log.Info("Parallel test execution finished", "execution", executionID,
		"passed", result.Passed, "failed", result.Failed, "skipped", len(result.Skipped), "duration", result.Duration)
	c.printResultsTable(result)

	if err != nil {
		return result, err
	}
	return result, nil
}

// applyPlan feeds the plan's declarations into the managers. Safe to
// call for successive runs of the same plan; resources and workers are
// re-registered, existing pools are kept.
func (c *Coordinator) applyPlan(plan *Plan) error {
	for _, res := range plan.Resources {
		c.Locks.RegisterResource(res)
	}
	for _, ps := range plan.Pools {
		if err := c.Pools.CreateResourcePool(ps.PoolID, ps.ResourceType, ps.Capacity); err != nil {
			// Recreating an existing pool across runs is expected.
			c.log.Debug("Pool not created", "pool", ps.PoolID, "reason", err)
		}
	}
	for _, w := range plan.Workers {
		c.Distribution.RegisterWorker(w.WorkerID, w.WorkerType, w.Capabilities, w.MaxCapacity, w.Metadata)
	}
	for _, g := range plan.Groups {
		c.Distribution.CreateTestGroup(g)
	}
	for _, d := range plan.Dependencies {
		c.Deps.AddDependency(d)
	}

	c.planMu.Lock()
	c.resourceNeeds = make(map[string][]string, len(plan.RequiredResources))
	for testID, resources := range plan.RequiredResources {
		c.resourceNeeds[testID] = append([]string(nil), resources...)
	}
	c.planMu.Unlock()
	return nil
}

// runWorker drains one worker's assigned tests. Each worker gets a fresh
// isolated environment for the batch and is cleaned up afterward, even
// on cancellation.
func (c *Coordinator) runWorker(ctx context.Context, executionID, workerID string, assigned []string,
	executors map[string]TestFunc, sem *semaphore.Weighted, result *RunResult, resultMu *sync.Mutex) error {

	if _, err := c.Isolation.CreateEnvironment(workerID, nil); err != nil {
		return NewRuntimeError(fmt.Errorf("creating environment for worker %s: %w", workerID, err))
	}
	defer c.CleanupWorker(workerID)

	c.Reporting.ReportWorkerStatus(executionID, workerID, "running", "")
	defer c.Reporting.ReportWorkerStatus(executionID, workerID, "finished", "")

	pollInterval := c.cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	stallTimeout := c.cfg.StallTimeout
	if stallTimeout <= 0 {
		stallTimeout = defaultStallTimeout
	}
	lockTTL := c.cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	skip := func(testID string, reason SkipReason) {
		resultMu.Lock()
		result.Skipped[testID] = reason
		resultMu.Unlock()
		c.log.Debug("Skipping test", "test", testID, "worker", workerID, "reason", reason)
	}

	pending := append([]string(nil), assigned...)
	lastProgress := time.Now()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			for _, testID := range pending {
				skip(testID, SkipCancelled)
			}
			return ctx.Err()
		default:
		}

		var blocked []string
		progressed := false

		for _, testID := range pending {
			fn, ok := executors[testID]
			if !ok {
				skip(testID, SkipNoExecutor)
				progressed = true
				continue
			}
			if c.Quarantine.IsTestQuarantined(testID) {
				skip(testID, SkipQuarantined)
				progressed = true
				continue
			}

			required := c.requiredResources(testID)
			if err := sem.Acquire(ctx, 1); err != nil {
				blocked = append(blocked, testID)
				continue
			}
			c.Reporting.ReportWorkerStatus(executionID, workerID, "running", testID)
			testStart := time.Now()
			ran, passed := c.tryExecute(testID, workerID, fn, required, lockTTL)
			sem.Release(1)

			if !ran {
				blocked = append(blocked, testID)
				continue
			}

			duration := time.Since(testStart)
			c.Distribution.RecordTestCompletion(testID, workerID, duration, passed)
			c.Reporting.ReportTestCompletion(executionID, testID, workerID, passed, duration)

			resultMu.Lock()
			result.Executed++
			if passed {
				result.Passed++
			} else {
				result.Failed++
			}
			resultMu.Unlock()
			progressed = true
		}

		if progressed {
			lastProgress = time.Now()
		} else if time.Since(lastProgress) > stallTimeout {
			for _, testID := range blocked {
				skip(testID, SkipBlocked)
			}
			return nil
		}

		pending = blocked
		if len(pending) > 0 && !progressed {
			select {
			case <-time.After(pollInterval):
			case <-ctx.Done():
			}
		}
	}
	return nil
}

// requiredResources resolves the resource locks a test needs from the
// most recently applied plan.
func (c *Coordinator) requiredResources(testID string) []string {
	c.planMu.Lock()
	defer c.planMu.Unlock()
	return c.resourceNeeds[testID]
}
