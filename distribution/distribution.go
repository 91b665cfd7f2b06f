// Package distribution keeps the worker registry and assigns tests to
// workers by pluggable strategies.
package distribution

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

const (
	// maxHistorySamples bounds the per-test rolling duration history.
	maxHistorySamples = 10
	// defaultEstimate is used for tests with no recorded history.
	defaultEstimate = time.Minute
	// heartbeatStale is how old a heartbeat may be before a worker's
	// health score is penalized.
	heartbeatStale = 60 * time.Second
	// minHealthyScore is the floor below which a worker is not
	// considered for new assignments.
	minHealthyScore = 0.5
)

// Manager registers workers and test groups and produces test-to-worker
// assignments. All methods are safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	workers     map[string]*types.WorkerNode
	workerOrder []string // registration order, drives round-robin
	groups      map[string]*types.TestGroup
	history     map[string][]time.Duration
	log         log.Logger
}

// NewManager creates an empty distribution manager.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		workers: make(map[string]*types.WorkerNode),
		groups:  make(map[string]*types.TestGroup),
		history: make(map[string][]time.Duration),
		log:     logger.New("component", "distribution-manager"),
	}
}

// RegisterWorker adds a worker to the registry. Re-registering an id
// replaces the worker but keeps its registration position.
func (m *Manager) RegisterWorker(workerID, workerType string, capabilities []string, maxCapacity int, metadata map[string]string) string {
	if maxCapacity <= 0 {
		maxCapacity = 1
	}

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID]; !ok {
		m.workerOrder = append(m.workerOrder, workerID)
	}
	m.workers[workerID] = &types.WorkerNode{
		WorkerID:           workerID,
		WorkerType:         workerType,
		Capabilities:       append([]string(nil), capabilities...),
		MaxCapacity:        maxCapacity,
		HealthScore:        1.0,
		LastHeartbeat:      time.Now(),
		Metadata:           meta,
		PerformanceMetrics: make(map[string]float64),
	}

	m.log.Info("Registered worker", "worker", workerID, "type", workerType, "capabilities", capabilities)
	return workerID
}

// CreateTestGroup registers a group of tests for distribution.
func (m *Manager) CreateTestGroup(group types.TestGroup) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := group
	m.groups[g.GroupID] = &g
	m.log.Info("Created test group", "group", g.GroupID, "tests", len(g.TestIDs))
	return g.GroupID
}

// DistributeTests assigns every grouped test to a worker using the given
// strategy and records the assignments on the workers. Group order is
// deterministic (sorted by group id).
func (m *Manager) DistributeTests(strategy types.Strategy) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.workers) == 0 {
		return nil, errors.New("no workers registered")
	}

	var distribution map[string][]string
	switch strategy {
	case types.StrategyRoundRobin:
		distribution = m.roundRobin()
	case types.StrategyLoadBalanced, types.StrategyDurationOptimized:
		// duration_optimized delegates to the LPT bin-packing heuristic.
		distribution = m.loadBalanced()
	case types.StrategyCapabilityBased:
		distribution = m.capabilityBased()
	default:
		return nil, errors.Errorf("unknown distribution strategy: %s", strategy)
	}

	for workerID, testIDs := range distribution {
		w := m.workers[workerID]
		w.AssignedTests = testIDs
		w.CurrentLoad = len(testIDs)
	}

	m.log.Info("Distributed tests", "strategy", strategy, "workers", len(distribution))
	return distribution, nil
}

// sortedGroups returns groups ordered by id for deterministic output.
func (m *Manager) sortedGroups() []*types.TestGroup {
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]*types.TestGroup, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, m.groups[id])
	}
	return groups
}

func (m *Manager) emptyDistribution() map[string][]string {
	distribution := make(map[string][]string, len(m.workers))
	for _, id := range m.workerOrder {
		distribution[id] = nil
	}
	return distribution
}

// roundRobin assigns tests cyclically, ignoring cost.
func (m *Manager) roundRobin() map[string][]string {
	distribution := m.emptyDistribution()

	i := 0
	for _, group := range m.sortedGroups() {
		for _, testID := range group.TestIDs {
			workerID := m.workerOrder[i%len(m.workerOrder)]
			distribution[workerID] = append(distribution[workerID], testID)
			i++
		}
	}
	return distribution
}

// loadBalanced sorts tests by estimated duration descending and greedily
// assigns each to the worker with the lowest accumulated load, the
// longest-processing-time bin-packing heuristic.
func (m *Manager) loadBalanced() map[string][]string {
	distribution := m.emptyDistribution()

	type testCost struct {
		testID   string
		duration time.Duration
	}
	var all []testCost
	for _, group := range m.sortedGroups() {
		for _, testID := range group.TestIDs {
			all = append(all, testCost{testID: testID, duration: m.estimateLocked(testID)})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].duration > all[j].duration })

	loads := make(map[string]time.Duration, len(m.workerOrder))
	for _, tc := range all {
		minWorker := m.workerOrder[0]
		for _, workerID := range m.workerOrder[1:] {
			if loads[workerID] < loads[minWorker] {
				minWorker = workerID
			}
		}
		distribution[minWorker] = append(distribution[minWorker], tc.testID)
		loads[minWorker] += tc.duration
	}
	return distribution
}

// capabilityBased restricts each group to workers whose capability set
// covers the group's requirements, round-robining within the qualified
// set. Groups with no qualified worker fall back to round-robin across
// all workers.
func (m *Manager) capabilityBased() map[string][]string {
	distribution := m.emptyDistribution()

	for _, group := range m.sortedGroups() {
		var suitable []string
		for _, workerID := range m.workerOrder {
			if m.workers[workerID].HasCapabilities(group.RequiredCapabilities) {
				suitable = append(suitable, workerID)
			}
		}
		if len(suitable) == 0 {
			m.log.Warn("No workers match group capabilities, falling back to round-robin",
				"group", group.GroupID, "required", group.RequiredCapabilities)
			suitable = m.workerOrder
		}
		for i, testID := range group.TestIDs {
			workerID := suitable[i%len(suitable)]
			distribution[workerID] = append(distribution[workerID], testID)
		}
	}
	return distribution
}

// UpdateWorkerHeartbeat refreshes a worker's heartbeat and merges in
// performance metrics, recomputing its health score.
func (m *Manager) UpdateWorkerHeartbeat(workerID string, performanceMetrics map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return
	}
	w.LastHeartbeat = time.Now()
	for k, v := range performanceMetrics {
		w.PerformanceMetrics[k] = v
	}
	w.HealthScore = m.healthScore(w)
}

// OptimalWorker picks, among healthy workers with spare capacity and the
// required capabilities, the one with the lowest load, breaking ties by
// highest health score. Returns false when no worker qualifies.
func (m *Manager) OptimalWorker(requiredCapabilities []string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := ""
	for _, workerID := range m.workerOrder {
		w := m.workers[workerID]
		if w.HealthScore <= minHealthyScore || !w.HasCapacity() {
			continue
		}
		if !w.HasCapabilities(requiredCapabilities) {
			continue
		}
		if best == "" {
			best = workerID
			continue
		}
		bw := m.workers[best]
		if w.CurrentLoad < bw.CurrentLoad ||
			(w.CurrentLoad == bw.CurrentLoad && w.HealthScore > bw.HealthScore) {
			best = workerID
		}
	}
	return best, best != ""
}

// RecordTestCompletion appends to the test's bounded duration history,
// decrements the worker's load, and folds the sample into the worker's
// running duration and success-rate averages.
func (m *Manager) RecordTestCompletion(testID, workerID string, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := append(m.history[testID], duration)
	if len(h) > maxHistorySamples {
		h = h[len(h)-maxHistorySamples:]
	}
	m.history[testID] = h

	w, ok := m.workers[workerID]
	if !ok {
		return
	}
	if w.CurrentLoad > 0 {
		w.CurrentLoad--
	}

	secs := duration.Seconds()
	if avg, ok := w.PerformanceMetrics["average_duration"]; ok {
		w.PerformanceMetrics["average_duration"] = (avg + secs) / 2
	} else {
		w.PerformanceMetrics["average_duration"] = secs
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if rate, ok := w.PerformanceMetrics["success_rate"]; ok {
		w.PerformanceMetrics["success_rate"] = (rate + outcome) / 2
	} else {
		w.PerformanceMetrics["success_rate"] = outcome
	}

	w.HealthScore = m.healthScore(w)
}

// EstimatedDuration returns the mean of the test's recorded history, or
// a one-minute default with no history.
func (m *Manager) EstimatedDuration(testID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateLocked(testID)
}

func (m *Manager) estimateLocked(testID string) time.Duration {
	h := m.history[testID]
	if len(h) == 0 {
		return defaultEstimate
	}
	var total time.Duration
	for _, d := range h {
		total += d
	}
	return total / time.Duration(len(h))
}

// Worker returns a copy of the registered worker, or false.
func (m *Manager) Worker(workerID string) (types.WorkerNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return types.WorkerNode{}, false
	}
	return *w, true
}

// Workers returns copies of all registered workers in registration order.
func (m *Manager) Workers() []types.WorkerNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.WorkerNode, 0, len(m.workerOrder))
	for _, id := range m.workerOrder {
		out = append(out, *m.workers[id])
	}
	return out
}

// healthScore multiplies penalties for high load, low success rate, slow
// average duration, and a stale heartbeat, clamped to [0, 1].
func (m *Manager) healthScore(w *types.WorkerNode) float64 {
	score := 1.0

	if float64(w.CurrentLoad) > float64(w.MaxCapacity)*0.8 {
		score *= 0.8
	}
	if rate, ok := w.PerformanceMetrics["success_rate"]; ok {
		score *= rate
	}
	if avg, ok := w.PerformanceMetrics["average_duration"]; ok && avg > 0 {
		factor := defaultEstimate.Seconds() / avg
		if factor > 1 {
			factor = 1
		}
		score *= factor
	}
	if time.Since(w.LastHeartbeat) > heartbeatStale {
		score *= 0.5
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
