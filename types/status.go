package types

// TestStatus represents the lifecycle state of a test within the
// dependency tracker. Tests move pending -> running -> completed/failed.
type TestStatus string

const (
	TestStatusPending   TestStatus = "pending"
	TestStatusRunning   TestStatus = "running"
	TestStatusCompleted TestStatus = "completed"
	TestStatusFailed    TestStatus = "failed"
)

// IsTerminal returns true once a test has finished, regardless of outcome.
func (s TestStatus) IsTerminal() bool {
	return s == TestStatusCompleted || s == TestStatusFailed
}

// DependencyType describes the scheduling relationship between two tests.
type DependencyType string

const (
	// DependencyBefore requires the referenced test to complete first.
	DependencyBefore DependencyType = "before"
	// DependencyAfter is advisory ordering; it never blocks execution.
	DependencyAfter DependencyType = "after"
	// DependencyParallelSafe marks two tests as safe to run together.
	DependencyParallelSafe DependencyType = "parallel_safe"
	// DependencyMutex forbids running while the referenced test is running.
	DependencyMutex DependencyType = "mutex"
)

// Valid reports whether the dependency type is one of the known kinds.
func (d DependencyType) Valid() bool {
	switch d {
	case DependencyBefore, DependencyAfter, DependencyParallelSafe, DependencyMutex:
		return true
	}
	return false
}

// PoolHealth is the coarse health classification of a resource pool.
type PoolHealth string

const (
	PoolHealthy   PoolHealth = "healthy"
	PoolDegraded  PoolHealth = "degraded"
	PoolUnhealthy PoolHealth = "unhealthy"
)

// Strategy selects how tests are assigned to workers.
type Strategy string

const (
	StrategyRoundRobin        Strategy = "round_robin"
	StrategyLoadBalanced      Strategy = "load_balanced"
	StrategyCapabilityBased   Strategy = "capability_based"
	StrategyDurationOptimized Strategy = "duration_optimized"
)

// Valid reports whether the strategy is one of the built-in strategies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyLoadBalanced, StrategyCapabilityBased, StrategyDurationOptimized:
		return true
	}
	return false
}
