package locks

import (
	"sync"
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

func registerResource(m *Manager, id string) {
	m.RegisterResource(types.TestResource{
		ResourceID:   id,
		ResourceType: "driver",
	})
}

func TestAcquireLock_MutualExclusion(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))
	assert.False(t, m.AcquireLock("res-1", "worker-2", 0), "second holder must be refused")
	assert.Equal(t, "worker-1", m.LockHolder("res-1"))

	require.True(t, m.ReleaseLock("res-1", "worker-1"))
	assert.True(t, m.AcquireLock("res-1", "worker-2", 0))
}

func TestAcquireLock_Reentrant(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))
	assert.True(t, m.AcquireLock("res-1", "worker-1", 0), "holder re-acquiring its own lock succeeds")
}

func TestAcquireLock_UnknownResource(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.AcquireLock("nope", "worker-1", 0))
	assert.False(t, m.ReleaseLock("nope", "worker-1"))
	assert.Empty(t, m.LockHolder("nope"))
}

func TestAcquireLock_ExpiredLockIsForceReleased(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	// The stale lock must not block a new holder.
	assert.True(t, m.AcquireLock("res-1", "worker-2", 0))
	assert.Equal(t, "worker-2", m.LockHolder("res-1"))
}

func TestLockHolder_LazyExpiry(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, m.LockHolder("res-1"), "expired lock reads as unlocked")
	assert.False(t, m.IsLocked("res-1"))
}

func TestReleaseLock_NonOwnerRefused(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))
	assert.False(t, m.ReleaseLock("res-1", "worker-2"))
	assert.Equal(t, "worker-1", m.LockHolder("res-1"))
}

func TestForceReleaseLock(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))
	assert.True(t, m.ForceReleaseLock("res-1"))
	assert.Empty(t, m.LockHolder("res-1"))
}

func TestReleaseLock_ServesWaitersInOrder(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))

	// Both join the queue; neither acquires immediately.
	assert.False(t, m.AcquireLock("res-1", "worker-2", time.Minute))
	assert.False(t, m.AcquireLock("res-1", "worker-3", time.Minute))

	require.True(t, m.ReleaseLock("res-1", "worker-1"))
	assert.Equal(t, "worker-2", m.LockHolder("res-1"), "first waiter is served first")

	require.True(t, m.ReleaseLock("res-1", "worker-2"))
	assert.Equal(t, "worker-3", m.LockHolder("res-1"))
}

func TestReleaseLock_DropsExpiredWaiters(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	require.True(t, m.AcquireLock("res-1", "worker-1", 0))
	assert.False(t, m.AcquireLock("res-1", "worker-2", 5*time.Millisecond))
	assert.False(t, m.AcquireLock("res-1", "worker-3", time.Minute))

	time.Sleep(10 * time.Millisecond)

	require.True(t, m.ReleaseLock("res-1", "worker-1"))
	assert.Equal(t, "worker-3", m.LockHolder("res-1"), "expired waiter is skipped")
}

func TestCleanupExpiredLocks(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")
	registerResource(m, "res-2")
	registerResource(m, "res-3")

	require.True(t, m.AcquireLock("res-1", "worker-1", 10*time.Millisecond))
	require.True(t, m.AcquireLock("res-2", "worker-1", 10*time.Millisecond))
	require.True(t, m.AcquireLock("res-3", "worker-1", 0)) // no TTL, never expires

	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 2, m.CleanupExpiredLocks())
	assert.Equal(t, "worker-1", m.LockHolder("res-3"))
}

func TestGetLockStatus(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")
	registerResource(m, "res-2")

	require.True(t, m.AcquireLock("res-1", "worker-1", time.Minute))
	assert.False(t, m.AcquireLock("res-1", "worker-2", time.Minute))

	status := m.GetLockStatus()
	assert.Equal(t, 2, status.TotalResources)
	assert.Equal(t, 1, status.LockedResources)
	assert.Equal(t, 1, status.QueuedRequests)
	assert.Equal(t, "worker-1", status.Resources["res-1"].LockedBy)
	assert.False(t, status.Resources["res-2"].Locked)
}

func TestAcquireLock_ConcurrentSingleWinner(t *testing.T) {
	m := newTestManager(t)
	registerResource(m, "res-1")

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if m.AcquireLock("res-1", string(rune('a'+n)), 0) {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, acquired, "exactly one concurrent acquire may win")
}
