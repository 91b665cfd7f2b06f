// Package deps tracks inter-test dependencies and decides run
// eligibility for the scheduler.
package deps

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// CompletionCallback is invoked when a test the callback was registered
// for reaches a terminal state.
type CompletionCallback func(testID string, success bool)

// Manager maintains the dependency graph and per-test lifecycle state.
// Eligibility is pull-based: callers re-poll GetRunnableTests as tests
// complete rather than being notified.
type Manager struct {
	mu        sync.Mutex
	deps      map[string][]types.TestDependency // dependent -> edges
	reverse   map[string][]types.TestDependency // dependency -> edges
	status    map[string]types.TestStatus
	callbacks map[string][]CompletionCallback
	log       log.Logger
}

// NewManager creates an empty dependency manager.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		deps:      make(map[string][]types.TestDependency),
		reverse:   make(map[string][]types.TestDependency),
		status:    make(map[string]types.TestStatus),
		callbacks: make(map[string][]CompletionCallback),
		log:       logger.New("component", "dependency-manager"),
	}
}

// AddDependency records a directed edge dependent -> dependency. Both
// tests start in the pending state if not already tracked.
func (m *Manager) AddDependency(dep types.TestDependency) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deps[dep.DependentTest] = append(m.deps[dep.DependentTest], dep)
	m.reverse[dep.DependencyTest] = append(m.reverse[dep.DependencyTest], dep)

	if _, ok := m.status[dep.DependentTest]; !ok {
		m.status[dep.DependentTest] = types.TestStatusPending
	}
	if _, ok := m.status[dep.DependencyTest]; !ok {
		m.status[dep.DependencyTest] = types.TestStatusPending
	}

	m.log.Debug("Added dependency", "dependent", dep.DependentTest, "dependency", dep.DependencyTest, "type", dep.Type)
}

// CanExecuteTest reports whether the test's dependencies permit running
// it now. Before-dependencies must be completed; mutex-dependencies must
// not be running; after and parallel_safe never block.
func (m *Manager) CanExecuteTest(testID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canExecuteLocked(testID)
}

func (m *Manager) canExecuteLocked(testID string) bool {
	for _, dep := range m.deps[testID] {
		depStatus, ok := m.status[dep.DependencyTest]
		if !ok {
			depStatus = types.TestStatusPending
		}
		switch dep.Type {
		case types.DependencyBefore:
			if depStatus != types.TestStatusCompleted {
				return false
			}
		case types.DependencyMutex:
			if depStatus == types.TestStatusRunning {
				return false
			}
		}
	}
	return true
}

// MarkTestStarted transitions a test to the running state.
func (m *Manager) MarkTestStarted(testID string) {
	m.mu.Lock()
	m.status[testID] = types.TestStatusRunning
	m.mu.Unlock()
	m.log.Debug("Test started", "test", testID)
}

// MarkTestCompleted transitions a test to completed or failed and fires
// any registered completion callbacks. Callback panics are logged, not
// propagated.
func (m *Manager) MarkTestCompleted(testID string, success bool) {
	m.mu.Lock()
	if success {
		m.status[testID] = types.TestStatusCompleted
	} else {
		m.status[testID] = types.TestStatusFailed
	}
	cbs := append([]CompletionCallback(nil), m.callbacks[testID]...)
	m.mu.Unlock()

	for _, cb := range cbs {
		m.invokeCallback(cb, testID, success)
	}
	m.log.Info("Test completed", "test", testID, "success", success)
}

func (m *Manager) invokeCallback(cb CompletionCallback, testID string, success bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Completion callback panicked", "test", testID, "panic", r)
		}
	}()
	cb(testID, success)
}

// TestStatus returns the tracked state of a test; untracked tests are
// pending.
func (m *Manager) TestStatus(testID string) types.TestStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.status[testID]; ok {
		return s
	}
	return types.TestStatusPending
}

// GetRunnableTests filters the given ids down to those still pending
// whose dependencies are satisfied.
func (m *Manager) GetRunnableTests(available []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	runnable := make([]string, 0, len(available))
	for _, id := range available {
		status, ok := m.status[id]
		if !ok {
			status = types.TestStatusPending
		}
		if status == types.TestStatusPending && m.canExecuteLocked(id) {
			runnable = append(runnable, id)
		}
	}
	return runnable
}

// DependencyGraph returns the adjacency view test -> tests it depends on.
func (m *Manager) DependencyGraph() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph := make(map[string][]string, len(m.deps))
	for id, edges := range m.deps {
		targets := make([]string, 0, len(edges))
		for _, dep := range edges {
			targets = append(targets, dep.DependencyTest)
		}
		graph[id] = targets
	}
	return graph
}

// AddCompletionCallback registers cb to fire when testID completes.
func (m *Manager) AddCompletionCallback(testID string, cb CompletionCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[testID] = append(m.callbacks[testID], cb)
}

// DetectCircularDependencies runs a DFS with a recursion stack from each
// tracked test and returns every discovered cycle as an ordered list of
// ids, with the entry node repeated at the end. Advisory only; cycles do
// not veto scheduling.
func (m *Manager) DetectCircularDependencies() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	roots := make([]string, 0, len(m.status))
	for id := range m.status {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	visited := make(map[string]bool)
	var cycles [][]string

	for _, root := range roots {
		if visited[root] {
			continue
		}
		if cycle := m.dfsCycle(root, visited, make(map[string]bool), nil); cycle != nil {
			cycles = append(cycles, cycle)
		}
	}

	if len(cycles) > 0 {
		m.log.Warn("Detected circular dependencies", "count", len(cycles))
	}
	return cycles
}

func (m *Manager) dfsCycle(node string, visited, recStack map[string]bool, path []string) []string {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	for _, dep := range m.deps[node] {
		neighbor := dep.DependencyTest
		if !visited[neighbor] {
			if cycle := m.dfsCycle(neighbor, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[neighbor] {
			start := 0
			for i, id := range path {
				if id == neighbor {
					start = i
					break
				}
			}
			cycle := append([]string(nil), path[start:]...)
			return append(cycle, neighbor)
		}
	}

	recStack[node] = false
	return nil
}
