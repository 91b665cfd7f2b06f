package pool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(log.New())
}

func TestCreateResourcePool(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.CreateResourcePool("browsers", "webdriver", 3))

	st, ok := m.GetPoolStatus("browsers")
	require.True(t, ok)
	assert.Equal(t, 3, st.TotalCapacity)
	assert.Equal(t, 3, st.AvailableCapacity)
	assert.Equal(t, types.PoolHealthy, st.HealthStatus)

	assert.Error(t, m.CreateResourcePool("browsers", "webdriver", 3), "duplicate pool id")
	assert.Error(t, m.CreateResourcePool("empty", "webdriver", 0), "non-positive capacity")
}

func TestAllocateRelease_CapacityTwo(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 2))

	res1, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)
	res2, ok := m.AllocateResource("db", "worker-2", 0)
	require.True(t, ok)
	assert.NotEqual(t, res1, res2)

	// Pool is exhausted.
	_, ok = m.AllocateResource("db", "worker-3", 0)
	assert.False(t, ok)

	st, _ := m.GetPoolStatus("db")
	assert.Equal(t, 0, st.AvailableCapacity)
	assert.Equal(t, 2, st.AllocatedCount)
	assert.InDelta(t, 100.0, st.UtilizationRate, 0.001)

	require.True(t, m.ReleaseResource("db", res1, "worker-1"))
	_, ok = m.AllocateResource("db", "worker-3", 0)
	assert.True(t, ok)
}

func TestAllocateResource_UnknownPool(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.AllocateResource("nope", "worker-1", 0)
	assert.False(t, ok)
	assert.False(t, m.ReleaseResource("nope", "x", "worker-1"))
}

func TestReleaseResource_NonOwnerRefused(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 1))

	res, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)

	assert.False(t, m.ReleaseResource("db", res, "worker-2"))
	assert.False(t, m.ReleaseResource("db", "db-resource-99", "worker-1"))
	assert.True(t, m.ReleaseResource("db", res, "worker-1"))
	assert.False(t, m.ReleaseResource("db", res, "worker-1"), "double release")
}

func TestQueuedRequestsFulfilledInOrder(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 1))

	res, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)

	// Both queue; neither is served yet.
	_, ok = m.AllocateResource("db", "worker-2", time.Minute)
	assert.False(t, ok)
	_, ok = m.AllocateResource("db", "worker-3", time.Minute)
	assert.False(t, ok)

	st, _ := m.GetPoolStatus("db")
	assert.Equal(t, 2, st.WaitingQueue)

	require.True(t, m.ReleaseResource("db", res, "worker-1"))

	allocs := m.Allocations("db")
	require.Len(t, allocs, 1)
	for _, worker := range allocs {
		assert.Equal(t, "worker-2", worker, "first queued request is served first")
	}

	st, _ = m.GetPoolStatus("db")
	assert.Equal(t, 1, st.WaitingQueue)
}

func TestQueuedRequest_ExpiredIsDropped(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 1))

	res, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)

	_, ok = m.AllocateResource("db", "worker-2", 5*time.Millisecond)
	assert.False(t, ok)

	time.Sleep(10 * time.Millisecond)
	require.True(t, m.ReleaseResource("db", res, "worker-1"))

	assert.Empty(t, m.Allocations("db"), "expired request is not fulfilled")
	st, _ := m.GetPoolStatus("db")
	assert.Equal(t, 1, st.AvailableCapacity)
}

func TestCheckPoolHealth(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 4))

	// 3 of 4 used: 75% utilization, healthy.
	for i := 0; i < 3; i++ {
		_, ok := m.AllocateResource("db", "worker-1", 0)
		require.True(t, ok)
	}
	m.CheckPoolHealth()
	st, _ := m.GetPoolStatus("db")
	assert.Equal(t, types.PoolHealthy, st.HealthStatus)

	// 4 of 4 used with a deep queue: unhealthy.
	_, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		m.AllocateResource("db", "worker-2", time.Minute)
	}
	m.CheckPoolHealth()
	st, _ = m.GetPoolStatus("db")
	assert.Equal(t, types.PoolUnhealthy, st.HealthStatus)
}

func TestCheckPoolHealth_Degraded(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 20))

	// 19 of 20 used: 95% utilization sits in the degraded band.
	for i := 0; i < 19; i++ {
		_, ok := m.AllocateResource("db", "worker-1", 0)
		require.True(t, ok)
	}

	m.CheckPoolHealth()
	st, _ := m.GetPoolStatus("db")
	assert.Equal(t, types.PoolDegraded, st.HealthStatus)
}

func TestHealthMonitoringLifecycle(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreateResourcePool("db", "database", 1))

	m.StartHealthMonitoring(5 * time.Millisecond)
	m.StartHealthMonitoring(5 * time.Millisecond) // second start is a no-op

	_, ok := m.AllocateResource("db", "worker-1", 0)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		st, _ := m.GetPoolStatus("db")
		return st.HealthStatus == types.PoolUnhealthy
	}, time.Second, 5*time.Millisecond, "monitor loop re-scores the full pool")

	m.StopHealthMonitoring()
	m.StopHealthMonitoring() // second stop is a no-op
}
