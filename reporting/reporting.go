// Package reporting ingests test-completion and worker-status events
// from many workers, folds them into per-execution metrics on a single
// consumer goroutine, and produces real-time and consolidated reports.
package reporting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/AlbertGroenwold/behave-framework-sub000/metrics"
	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

const (
	// eventBuffer is the capacity of the producer queue. Producers never
	// block; events beyond a full buffer are dropped with a warning.
	eventBuffer = 1024
	// maxStoredResults bounds the per-execution real-time detail list.
	maxStoredResults = 1000
)

// EventType discriminates queued reporting events.
type EventType string

const (
	EventTestCompletion EventType = "test_completion"
	EventWorkerStatus   EventType = "worker_status"

	// eventFlush is a sentinel consumed internally by Flush.
	eventFlush EventType = "flush"
)

// Event is one reporting message from a worker.
type Event struct {
	Type        EventType     `json:"type"`
	ExecutionID string        `json:"execution_id"`
	TestID      string        `json:"test_id,omitempty"`
	WorkerID    string        `json:"worker_id"`
	Success     bool          `json:"success,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Status      string        `json:"status,omitempty"`
	CurrentTest string        `json:"current_test,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`

	// flushed is closed by the consumer when a flush sentinel is
	// handled. Internal to Flush.
	flushed chan struct{}
}

// TestRecord is one completed test in the real-time detail list.
type TestRecord struct {
	TestID    string        `json:"test_id"`
	WorkerID  string        `json:"worker_id"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// WorkerStatus is the last reported state of one worker.
type WorkerStatus struct {
	Status      string    `json:"status"`
	CurrentTest string    `json:"current_test,omitempty"`
	LastUpdate  time.Time `json:"last_update"`
}

// execution is the consumer-side state for one tracked execution.
type execution struct {
	metrics      *types.ParallelExecutionMetrics
	testResults  []TestRecord
	workerStatus map[string]WorkerStatus
}

// Manager is the thread-safe reporting hub. Producers enqueue events
// without blocking; a single consumer goroutine owns all metric
// mutation. Start must be called before events are consumed, Stop drains
// the consumer.
type Manager struct {
	mu         sync.Mutex
	executions map[string]*execution
	callbacks  []func(Event)

	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	log     log.Logger
}

// NewManager creates a reporting manager. The consumer is not running
// until Start is called.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		executions: make(map[string]*execution),
		events:     make(chan Event, eventBuffer),
		log:        logger.New("component", "reporting-manager"),
	}
}

// Start launches the consumer goroutine. No-op when already running.
func (m *Manager) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.consume()
	m.log.Info("Started reporting consumer")
}

// Stop signals the consumer, drains any queued events, and waits for it
// to exit.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.done)
	m.wg.Wait()
	m.log.Info("Stopped reporting consumer")
}

func (m *Manager) consume() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.events:
			m.handle(ev)
		case <-m.done:
			// Drain whatever producers managed to enqueue before stop.
			for {
				select {
				case ev := <-m.events:
					m.handle(ev)
				default:
					return
				}
			}
		}
	}
}

// StartExecutionTracking begins metrics collection for an execution.
func (m *Manager) StartExecutionTracking(executionID string, totalTests, workerCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.executions[executionID] = &execution{
		metrics: &types.ParallelExecutionMetrics{
			ExecutionID: executionID,
			StartTime:   time.Now(),
			TotalTests:  totalTests,
			WorkerCount: workerCount,
		},
		workerStatus: make(map[string]WorkerStatus),
	}
	m.log.Info("Started execution tracking", "execution", executionID, "totalTests", totalTests, "workers", workerCount)
}

// ReportTestCompletion enqueues a completion event. Never blocks; when
// the queue is full the event is dropped and counted as a reporting
// error.
func (m *Manager) ReportTestCompletion(executionID, testID, workerID string, success bool, duration time.Duration) {
	m.enqueue(Event{
		Type:        EventTestCompletion,
		ExecutionID: executionID,
		TestID:      testID,
		WorkerID:    workerID,
		Success:     success,
		Duration:    duration,
		Timestamp:   time.Now(),
	})
}

// ReportWorkerStatus enqueues a worker-status event. Never blocks.
func (m *Manager) ReportWorkerStatus(executionID, workerID, status, currentTest string) {
	m.enqueue(Event{
		Type:        EventWorkerStatus,
		ExecutionID: executionID,
		WorkerID:    workerID,
		Status:      status,
		CurrentTest: currentTest,
		Timestamp:   time.Now(),
	})
}

func (m *Manager) enqueue(ev Event) {
	select {
	case m.events <- ev:
	default:
		metrics.RecordError("reporting_queue_full")
		m.log.Warn("Reporting queue full, dropping event", "type", ev.Type, "test", ev.TestID)
	}
}

// handle folds one event into its execution's state and notifies
// callbacks. Runs only on the consumer goroutine.
func (m *Manager) handle(ev Event) {
	if ev.Type == eventFlush {
		close(ev.flushed)
		return
	}

	m.mu.Lock()
	exec, ok := m.executions[ev.ExecutionID]
	if ok {
		switch ev.Type {
		case EventTestCompletion:
			em := exec.metrics
			em.CompletedTests++
			if !ev.Success {
				em.FailedTests++
			}
			// Incremental mean keeps the average exact without storing
			// every duration.
			n := time.Duration(em.CompletedTests)
			em.AverageTestDuration = (em.AverageTestDuration*(n-1) + ev.Duration) / n

			if len(exec.testResults) < maxStoredResults {
				exec.testResults = append(exec.testResults, TestRecord{
					TestID:    ev.TestID,
					WorkerID:  ev.WorkerID,
					Success:   ev.Success,
					Duration:  ev.Duration,
					Timestamp: ev.Timestamp,
				})
			}
			metrics.RecordTestCompletion(ev.ExecutionID, ev.Success, ev.Duration)
		case EventWorkerStatus:
			exec.workerStatus[ev.WorkerID] = WorkerStatus{
				Status:      ev.Status,
				CurrentTest: ev.CurrentTest,
				LastUpdate:  ev.Timestamp,
			}
		}
	}
	cbs := append([]func(Event){}, m.callbacks...)
	m.mu.Unlock()

	for _, cb := range cbs {
		m.invokeCallback(cb, ev)
	}
}

func (m *Manager) invokeCallback(cb func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Report callback panicked", "panic", r)
		}
	}()
	cb(ev)
}

// Flush blocks until every event enqueued before the call has been
// folded by the consumer. The queue is FIFO, so once the sentinel comes
// back everything ahead of it is in. No-op when the consumer is not
// running.
func (m *Manager) Flush(ctx context.Context) error {
	if !m.running.Load() {
		return nil
	}

	flushed := make(chan struct{})
	select {
	case m.events <- Event{Type: eventFlush, flushed: flushed, Timestamp: time.Now()}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddReportCallback registers a callback invoked by the consumer for
// every event. Callback panics are logged, not propagated.
func (m *Manager) AddReportCallback(cb func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// GetRealTimeMetrics computes the live view for an execution: elapsed
// time, throughput, and ETA. Side-effect-free read.
func (m *Manager) GetRealTimeMetrics(executionID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return nil
	}

	em := exec.metrics
	elapsed := time.Since(em.StartTime)
	elapsedSecs := elapsed.Seconds()
	if elapsedSecs < 1 {
		elapsedSecs = 1
	}
	throughput := float64(em.CompletedTests) / elapsedSecs
	remaining := em.TotalTests - em.CompletedTests
	eta := 0.0
	if throughput > 0.01 {
		eta = float64(remaining) / throughput
	} else {
		eta = float64(remaining) / 0.01
	}

	workerStatus := make(map[string]WorkerStatus, len(exec.workerStatus))
	for id, ws := range exec.workerStatus {
		workerStatus[id] = ws
	}

	return map[string]any{
		"execution_id":          executionID,
		"start_time":            em.StartTime.Format(time.RFC3339),
		"elapsed_time":          elapsed.Seconds(),
		"total_tests":           em.TotalTests,
		"completed_tests":       em.CompletedTests,
		"failed_tests":          em.FailedTests,
		"success_rate":          em.SuccessRate(),
		"progress_percentage":   em.Progress(),
		"tests_per_second":      throughput,
		"eta_seconds":           eta,
		"worker_count":          em.WorkerCount,
		"average_test_duration": em.AverageTestDuration.Seconds(),
		"worker_status":         workerStatus,
	}
}

// GenerateConsolidatedReport finalizes the execution (end time and total
// execution time are set once) and returns the full report including
// parallel efficiency.
func (m *Manager) GenerateConsolidatedReport(executionID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[executionID]
	if !ok {
		return nil
	}

	em := exec.metrics
	if em.EndTime == nil {
		now := time.Now()
		em.EndTime = &now
		em.TotalExecutionTime = now.Sub(em.StartTime)
	}

	totalSecs := em.TotalExecutionTime.Seconds()
	if totalSecs < 1 {
		totalSecs = 1
	}
	parallelEfficiency := 0.0
	if em.WorkerCount > 0 {
		parallelEfficiency = float64(em.TotalTests) * em.AverageTestDuration.Seconds() /
			(totalSecs * float64(em.WorkerCount)) * 100
	}

	results := append([]TestRecord(nil), exec.testResults...)

	return map[string]any{
		"execution_summary": map[string]any{
			"execution_id":         executionID,
			"start_time":           em.StartTime.Format(time.RFC3339),
			"end_time":             em.EndTime.Format(time.RFC3339),
			"total_execution_time": em.TotalExecutionTime.Seconds(),
			"total_tests":          em.TotalTests,
			"completed_tests":      em.CompletedTests,
			"failed_tests":         em.FailedTests,
			"success_rate":         em.SuccessRate(),
			"worker_count":         em.WorkerCount,
		},
		"performance_metrics": map[string]any{
			"average_test_duration": em.AverageTestDuration.Seconds(),
			"tests_per_second":      float64(em.CompletedTests) / totalSecs,
			"parallel_efficiency":   parallelEfficiency,
		},
		"worker_status":   exec.workerStatus,
		"test_results":    results,
		"generation_time": time.Now().Format(time.RFC3339),
	}
}

// TestResults returns a copy of the completed-test records for an
// execution, in completion order.
func (m *Manager) TestResults(executionID string) []TestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return nil
	}
	return append([]TestRecord(nil), exec.testResults...)
}

// Metrics returns a copy of the raw execution metrics, or false.
func (m *Manager) Metrics(executionID string) (types.ParallelExecutionMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return types.ParallelExecutionMetrics{}, false
	}
	return *exec.metrics, true
}
