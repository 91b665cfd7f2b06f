package types

import "time"

// WorkerNode is a registered test worker and its scheduling state.
type WorkerNode struct {
	WorkerID           string             `json:"worker_id" yaml:"worker_id"`
	WorkerType         string             `json:"worker_type" yaml:"worker_type"`
	Capabilities       []string           `json:"capabilities" yaml:"capabilities"`
	CurrentLoad        int                `json:"current_load" yaml:"-"`
	MaxCapacity        int                `json:"max_capacity" yaml:"max_capacity"`
	HealthScore        float64            `json:"health_score" yaml:"-"`
	LastHeartbeat      time.Time          `json:"last_heartbeat" yaml:"-"`
	Metadata           map[string]string  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	AssignedTests      []string           `json:"assigned_tests" yaml:"-"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics" yaml:"-"`
}

// HasCapabilities reports whether the worker's capability set covers all
// of the required capabilities.
func (w *WorkerNode) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range w.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasCapacity reports whether the worker can accept more work.
func (w *WorkerNode) HasCapacity() bool {
	return w.CurrentLoad < w.MaxCapacity
}

// TestGroup is a set of related tests distributed as a unit.
type TestGroup struct {
	GroupID              string        `json:"group_id" yaml:"group_id"`
	GroupName            string        `json:"group_name" yaml:"group_name"`
	TestIDs              []string      `json:"test_ids" yaml:"test_ids"`
	Priority             int           `json:"priority" yaml:"priority"`
	EstimatedDuration    time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	RequiredCapabilities []string      `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	ParallelSafe         bool          `json:"parallel_safe" yaml:"parallel_safe"`
}
