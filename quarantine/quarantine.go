// Package quarantine detects flaky tests and temporarily excludes them
// from scheduling. State survives restarts through a JSON file.
package quarantine

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/AlbertGroenwold/behave-framework-sub000/metrics"
	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// Defaults for the quarantine state machine.
const (
	DefaultFailureThreshold   = 3
	DefaultSuccessThreshold   = 5
	DefaultQuarantineDuration = 24 * time.Hour
)

// Config controls quarantine thresholds and persistence.
type Config struct {
	// StateFile is the JSON file quarantine state is persisted to.
	// Empty means "test_quarantine.json" in the working directory.
	StateFile string
	// FailureThreshold is the failure count that triggers quarantine.
	FailureThreshold int
	// SuccessThreshold is the success count that releases a quarantined
	// test.
	SuccessThreshold int
	// QuarantineDuration releases a quarantined test after this much
	// wall-clock time regardless of results.
	QuarantineDuration time.Duration
	Log                log.Logger
}

func (c *Config) applyDefaults() {
	if c.StateFile == "" {
		c.StateFile = "test_quarantine.json"
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.QuarantineDuration <= 0 {
		c.QuarantineDuration = DefaultQuarantineDuration
	}
}

// state is the on-disk representation of the quarantine file.
type state struct {
	QuarantinedTests []types.QuarantinedTest `json:"quarantined_tests"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Manager is the flaky-test quarantine state machine. A test is
// quarantined once its failure count reaches the failure threshold, and
// released after enough subsequent successes or when the quarantine
// duration elapses. Every mutation is persisted; persistence failures
// degrade to in-memory operation.
type Manager struct {
	cfg   Config
	mu    sync.Mutex
	tests map[string]*types.QuarantinedTest
	log   log.Logger
}

// NewManager creates a manager and loads any persisted state. A missing
// state file starts empty; a malformed one starts empty with a warning.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:   cfg,
		tests: make(map[string]*types.QuarantinedTest),
		log:   cfg.Log.New("component", "quarantine-manager"),
	}
	if err := m.load(); err != nil {
		m.log.Warn("Failed to load quarantine state, starting empty", "file", cfg.StateFile, "error", err)
	}
	return m
}

// RecordTestResult records one test outcome and evaluates quarantine
// transitions. Quarantining resets the success count so release requires
// consecutive post-quarantine successes.
func (m *Manager) RecordTestResult(testID, testName string, success bool, failureReason string) {
	m.mu.Lock()

	qt, ok := m.tests[testID]
	if !ok {
		qt = &types.QuarantinedTest{TestID: testID, TestName: testName}
		m.tests[testID] = qt
	}

	if success {
		qt.SuccessCount++
		if qt.Quarantined() && qt.SuccessCount >= m.cfg.SuccessThreshold {
			m.releaseLocked(qt)
		}
	} else {
		qt.FailureCount++
		now := time.Now()
		qt.LastFailureTime = &now
		if !qt.Quarantined() && qt.FailureCount >= m.cfg.FailureThreshold {
			reason := failureReason
			if reason == "" {
				reason = "excessive failures"
			}
			m.quarantineLocked(qt, reason)
		}
	}
	m.mu.Unlock()

	m.save()
}

// IsTestQuarantined reports whether the test is currently quarantined.
// Quarantines past their duration are released lazily here.
func (m *Manager) IsTestQuarantined(testID string) bool {
	m.mu.Lock()
	qt, ok := m.tests[testID]
	if !ok || !qt.Quarantined() {
		m.mu.Unlock()
		return false
	}

	if time.Since(*qt.QuarantineStart) > m.cfg.QuarantineDuration {
		m.releaseLocked(qt)
		m.mu.Unlock()
		m.save()
		return false
	}
	m.mu.Unlock()
	return true
}

// QuarantinedTests returns copies of all currently quarantined records.
func (m *Manager) QuarantinedTests() []types.QuarantinedTest {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tests))
	for id := range m.tests {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var out []types.QuarantinedTest
	for _, id := range ids {
		if m.IsTestQuarantined(id) {
			m.mu.Lock()
			out = append(out, *m.tests[id])
			m.mu.Unlock()
		}
	}
	return out
}

// ForceQuarantine places a test under quarantine immediately.
// Supervisory operation.
func (m *Manager) ForceQuarantine(testID, testName, reason string) {
	m.mu.Lock()
	qt, ok := m.tests[testID]
	if !ok {
		qt = &types.QuarantinedTest{TestID: testID, TestName: testName}
		m.tests[testID] = qt
	}
	m.quarantineLocked(qt, reason)
	m.mu.Unlock()

	m.save()
}

// ForceRelease lifts a quarantine immediately. Supervisory operation.
func (m *Manager) ForceRelease(testID string) {
	m.mu.Lock()
	qt, ok := m.tests[testID]
	if ok {
		m.releaseLocked(qt)
	}
	m.mu.Unlock()

	if ok {
		m.save()
	}
}

// Stats describes the tracked record of a single test.
type Stats struct {
	TestID           string     `json:"test_id"`
	TestName         string     `json:"test_name"`
	TotalRuns        int        `json:"total_runs"`
	SuccessCount     int        `json:"success_count"`
	FailureCount     int        `json:"failure_count"`
	SuccessRate      float64    `json:"success_rate"`
	IsQuarantined    bool       `json:"is_quarantined"`
	QuarantineStart  *time.Time `json:"quarantine_start,omitempty"`
	LastFailureTime  *time.Time `json:"last_failure_time,omitempty"`
	QuarantineReason string     `json:"quarantine_reason,omitempty"`
}

// TestStats returns statistics for a tracked test, or false when the
// test has no record.
func (m *Manager) TestStats(testID string) (Stats, bool) {
	quarantined := m.IsTestQuarantined(testID)

	m.mu.Lock()
	defer m.mu.Unlock()

	qt, ok := m.tests[testID]
	if !ok {
		return Stats{}, false
	}

	total := qt.SuccessCount + qt.FailureCount
	stats := Stats{
		TestID:           testID,
		TestName:         qt.TestName,
		TotalRuns:        total,
		SuccessCount:     qt.SuccessCount,
		FailureCount:     qt.FailureCount,
		IsQuarantined:    quarantined,
		QuarantineStart:  qt.QuarantineStart,
		LastFailureTime:  qt.LastFailureTime,
		QuarantineReason: qt.QuarantineReason,
	}
	if total > 0 {
		stats.SuccessRate = float64(qt.SuccessCount) / float64(total) * 100
	}
	return stats, true
}

// TrackedTests returns the number of tests with any recorded result.
func (m *Manager) TrackedTests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tests)
}

func (m *Manager) quarantineLocked(qt *types.QuarantinedTest, reason string) {
	now := time.Now()
	qt.QuarantineStart = &now
	qt.QuarantineReason = reason
	qt.SuccessCount = 0
	metrics.RecordQuarantineEvent("quarantine")
	m.log.Warn("Test quarantined", "test", qt.TestID, "reason", reason, "failures", qt.FailureCount)
}

func (m *Manager) releaseLocked(qt *types.QuarantinedTest) {
	qt.QuarantineStart = nil
	qt.QuarantineReason = ""
	metrics.RecordQuarantineEvent("release")
	m.log.Info("Test released from quarantine", "test", qt.TestID)
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.cfg.StateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading quarantine state")
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return errors.Wrap(err, "parsing quarantine state")
	}

	m.mu.Lock()
	for i := range st.QuarantinedTests {
		qt := st.QuarantinedTests[i]
		m.tests[qt.TestID] = &qt
	}
	m.mu.Unlock()

	m.log.Info("Loaded quarantine state", "file", m.cfg.StateFile, "records", len(st.QuarantinedTests))
	return nil
}

// save persists the full state. I/O failures are logged and otherwise
// ignored so the manager keeps working in memory.
func (m *Manager) save() {
	m.mu.Lock()
	st := state{
		QuarantinedTests: make([]types.QuarantinedTest, 0, len(m.tests)),
		UpdatedAt:        time.Now(),
	}
	for _, qt := range m.tests {
		st.QuarantinedTests = append(st.QuarantinedTests, *qt)
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		m.log.Error("Failed to encode quarantine state", "error", err)
		return
	}
	if err := os.WriteFile(m.cfg.StateFile, data, 0o644); err != nil {
		m.log.Error("Failed to write quarantine state", "file", m.cfg.StateFile, "error", err)
	}
}
