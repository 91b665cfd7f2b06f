package types

import "time"

// ParallelExecutionMetrics aggregates counters and timing for one
// parallel execution. Created when tracking starts, mutated by the
// reporting consumer, finalized once when the consolidated report is
// generated.
type ParallelExecutionMetrics struct {
	ExecutionID         string        `json:"execution_id"`
	StartTime           time.Time     `json:"start_time"`
	EndTime             *time.Time    `json:"end_time,omitempty"`
	TotalTests          int           `json:"total_tests"`
	CompletedTests      int           `json:"completed_tests"`
	FailedTests         int           `json:"failed_tests"`
	WorkerCount         int           `json:"worker_count"`
	AverageTestDuration time.Duration `json:"average_test_duration"`
	TotalExecutionTime  time.Duration `json:"total_execution_time"`
}

// SuccessRate returns the percentage of completed tests that passed.
func (m *ParallelExecutionMetrics) SuccessRate() float64 {
	if m.CompletedTests == 0 {
		return 0
	}
	return float64(m.CompletedTests-m.FailedTests) / float64(m.CompletedTests) * 100
}

// Progress returns the percentage of total tests completed so far.
func (m *ParallelExecutionMetrics) Progress() float64 {
	if m.TotalTests == 0 {
		return 0
	}
	return float64(m.CompletedTests) / float64(m.TotalTests) * 100
}
