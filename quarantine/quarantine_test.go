package quarantine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(t.TempDir(), "quarantine.json")
	}
	cfg.Log = log.New()
	return NewManager(cfg)
}

func TestRecordTestResult_QuarantineAfterThreshold(t *testing.T) {
	m := newTestManager(t, Config{})

	m.RecordTestResult("test-1", "Login test", false, "timeout")
	m.RecordTestResult("test-1", "Login test", false, "timeout")
	assert.False(t, m.IsTestQuarantined("test-1"), "below threshold")

	m.RecordTestResult("test-1", "Login test", false, "timeout")
	assert.True(t, m.IsTestQuarantined("test-1"), "third failure quarantines")

	stats, ok := m.TestStats("test-1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.FailureCount)
	assert.Equal(t, "timeout", stats.QuarantineReason)
	assert.True(t, stats.IsQuarantined)
}

func TestRecordTestResult_ReleaseAfterSuccesses(t *testing.T) {
	m := newTestManager(t, Config{})

	for i := 0; i < 3; i++ {
		m.RecordTestResult("test-1", "Login test", false, "")
	}
	require.True(t, m.IsTestQuarantined("test-1"))

	for i := 0; i < 4; i++ {
		m.RecordTestResult("test-1", "Login test", true, "")
		assert.True(t, m.IsTestQuarantined("test-1"), "still below the success threshold")
	}

	m.RecordTestResult("test-1", "Login test", true, "")
	assert.False(t, m.IsTestQuarantined("test-1"), "fifth success releases")
}

func TestRecordTestResult_QuarantineResetsSuccessCount(t *testing.T) {
	m := newTestManager(t, Config{})

	// Successes before quarantine must not count toward release.
	for i := 0; i < 4; i++ {
		m.RecordTestResult("test-1", "Login test", true, "")
	}
	for i := 0; i < 3; i++ {
		m.RecordTestResult("test-1", "Login test", false, "")
	}
	require.True(t, m.IsTestQuarantined("test-1"))

	m.RecordTestResult("test-1", "Login test", true, "")
	assert.True(t, m.IsTestQuarantined("test-1"), "release needs post-quarantine successes")
}

func TestIsTestQuarantined_ExpiresAfterDuration(t *testing.T) {
	m := newTestManager(t, Config{QuarantineDuration: 20 * time.Millisecond})

	for i := 0; i < 3; i++ {
		m.RecordTestResult("test-1", "Login test", false, "")
	}
	require.True(t, m.IsTestQuarantined("test-1"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, m.IsTestQuarantined("test-1"), "quarantine expires after the configured duration")
}

func TestForceQuarantineAndRelease(t *testing.T) {
	m := newTestManager(t, Config{})

	m.ForceQuarantine("test-1", "Login test", "manual hold")
	assert.True(t, m.IsTestQuarantined("test-1"))

	quarantined := m.QuarantinedTests()
	require.Len(t, quarantined, 1)
	assert.Equal(t, "manual hold", quarantined[0].QuarantineReason)

	m.ForceRelease("test-1")
	assert.False(t, m.IsTestQuarantined("test-1"))
	assert.Empty(t, m.QuarantinedTests())
}

func TestPersistence_RoundTrip(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "quarantine.json")

	m := newTestManager(t, Config{StateFile: stateFile})
	for i := 0; i < 3; i++ {
		m.RecordTestResult("test-1", "Login test", false, "flaky selector")
	}
	m.RecordTestResult("test-2", "Search test", true, "")
	require.True(t, m.IsTestQuarantined("test-1"))

	// A fresh manager reading the same file sees the same state.
	m2 := newTestManager(t, Config{StateFile: stateFile})
	assert.True(t, m2.IsTestQuarantined("test-1"))
	assert.False(t, m2.IsTestQuarantined("test-2"))
	assert.Equal(t, 2, m2.TrackedTests())

	stats, ok := m2.TestStats("test-1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.FailureCount)
	assert.Equal(t, "flaky selector", stats.QuarantineReason)
}

func TestPersistence_FileShape(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "quarantine.json")

	m := newTestManager(t, Config{StateFile: stateFile})
	m.RecordTestResult("test-1", "Login test", false, "")

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "quarantined_tests")
	assert.Contains(t, doc, "updated_at")
}

func TestLoad_CorruptFileStartsEmpty(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "quarantine.json")
	require.NoError(t, os.WriteFile(stateFile, []byte("{not json"), 0o644))

	m := newTestManager(t, Config{StateFile: stateFile})
	assert.Equal(t, 0, m.TrackedTests())
}

func TestTestStats_SuccessRate(t *testing.T) {
	m := newTestManager(t, Config{})

	m.RecordTestResult("test-1", "Login test", true, "")
	m.RecordTestResult("test-1", "Login test", true, "")
	m.RecordTestResult("test-1", "Login test", false, "bad gateway")

	stats, ok := m.TestStats("test-1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.TotalRuns)
	assert.InDelta(t, 66.6, stats.SuccessRate, 0.1)
	assert.False(t, stats.IsQuarantined)

	_, ok = m.TestStats("unknown")
	assert.False(t, ok)
}
