package types

import "time"

// TestResource is a named external resource (driver session, file, DB
// handle) that at most one worker may hold at a time.
// LockedBy is non-empty exactly while the resource is held.
type TestResource struct {
	ResourceID   string        `json:"resource_id" yaml:"resource_id"`
	ResourceType string        `json:"resource_type" yaml:"resource_type"`
	ResourcePath string        `json:"resource_path,omitempty" yaml:"resource_path,omitempty"`
	LockedBy     string        `json:"locked_by,omitempty" yaml:"-"`
	LockedAt     time.Time     `json:"locked_at,omitempty" yaml:"-"`
	LockTimeout  time.Duration `json:"lock_timeout,omitempty" yaml:"lock_timeout,omitempty"`
	Exclusive    bool          `json:"is_exclusive" yaml:"exclusive"`
}

// Locked reports whether the resource is currently held.
func (r *TestResource) Locked() bool {
	return r.LockedBy != ""
}

// LockExpired reports whether the current lock has outlived its TTL.
// Locks without a TTL never expire.
func (r *TestResource) LockExpired(now time.Time) bool {
	if r.LockedBy == "" || r.LockTimeout <= 0 {
		return false
	}
	return now.Sub(r.LockedAt) > r.LockTimeout
}

// TestDependency is a directed edge dependent -> dependency constraining
// when the dependent test may run.
type TestDependency struct {
	DependentTest  string         `json:"dependent_test" yaml:"dependent_test"`
	DependencyTest string         `json:"dependency_test" yaml:"dependency_test"`
	Type           DependencyType `json:"dependency_type" yaml:"dependency_type"`
	Timeout        time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// IsolatedEnvironment is a per-worker scratch directory plus the
// environment variables exposed to tests running in it. An environment
// belongs to exactly one worker and is owned by the isolation manager.
type IsolatedEnvironment struct {
	EnvironmentID        string
	WorkerID             string
	BasePath             string
	TempPath             string
	EnvironmentVariables map[string]string
	Resources            map[string]any
	CreatedAt            time.Time
	CleanupCallbacks     []func() error
}

// ResourcePool is a fixed-capacity set of interchangeable resource slots.
// Invariant: AvailableCapacity + len(AllocatedResources) == TotalCapacity.
type ResourcePool struct {
	PoolID             string            `json:"pool_id"`
	ResourceType       string            `json:"resource_type"`
	TotalCapacity      int               `json:"total_capacity"`
	AvailableCapacity  int               `json:"available_capacity"`
	AllocatedResources map[string]string `json:"allocated_resources"` // resource_id -> worker_id
	HealthStatus       PoolHealth        `json:"health_status"`
}

// QuarantinedTest tracks the flakiness record of a single test.
// QuarantineStart is nil while the test is not quarantined.
type QuarantinedTest struct {
	TestID           string            `json:"test_id"`
	TestName         string            `json:"test_name"`
	FailureCount     int               `json:"failure_count"`
	SuccessCount     int               `json:"success_count"`
	LastFailureTime  *time.Time        `json:"last_failure_time,omitempty"`
	QuarantineStart  *time.Time        `json:"quarantine_start,omitempty"`
	QuarantineReason string            `json:"quarantine_reason"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Quarantined reports whether the test is currently under quarantine,
// ignoring expiry (the manager handles lazy release).
func (q *QuarantinedTest) Quarantined() bool {
	return q.QuarantineStart != nil
}
