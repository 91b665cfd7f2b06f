// Package locks provides per-resource exclusive locks with TTL expiry
// and FIFO waiter queues for parallel test execution.
package locks

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/ethereum/go-ethereum/log"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// waiter is a queued lock request. Expired waiters are dropped when the
// queue is next served.
type waiter struct {
	holder   string
	deadline time.Time
}

// entry pairs a registered resource with its own mutex and waiter queue
// so unrelated resources never contend on a shared lock.
type entry struct {
	mu      sync.Mutex
	res     *types.TestResource
	waiters *linkedlistqueue.Queue
}

// Manager hands out exclusive locks on registered resources.
// All methods are safe for concurrent use. Availability outcomes (lock
// held, unknown resource) are reported as booleans, not errors.
type Manager struct {
	mu      sync.RWMutex // guards entries map; lock order is m.mu then entry.mu, never the reverse
	entries map[string]*entry
	log     log.Logger
}

// NewManager creates an empty lock manager.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		log:     logger.New("component", "lock-manager"),
	}
}

// RegisterResource makes a resource lockable and returns its id.
// Re-registering an id replaces the stored resource but keeps any
// waiter queue.
func (m *Manager) RegisterResource(res types.TestResource) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[res.ResourceID]
	if !ok {
		e = &entry{waiters: linkedlistqueue.New()}
		m.entries[res.ResourceID] = e
	}
	e.mu.Lock()
	r := res
	e.res = &r
	e.mu.Unlock()

	m.log.Debug("Registered resource", "resource", res.ResourceID, "type", res.ResourceType)
	return res.ResourceID
}

func (m *Manager) entry(resourceID string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[resourceID]
}

// AcquireLock attempts to take the lock on resourceID for holder.
// It never blocks. If the resource is held by another holder whose lock
// has expired, the stale lock is force-released and the new holder is
// granted immediately. Otherwise, when timeout > 0 the request joins the
// FIFO waiter queue (served on release) and the call returns false.
// A successful acquire with timeout > 0 sets the lock's TTL.
func (m *Manager) AcquireLock(resourceID, holder string, timeout time.Duration) bool {
	e := m.entry(resourceID)
	if e == nil {
		m.log.Debug("Acquire on unknown resource", "resource", resourceID, "holder", holder)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.res
	if res.Locked() && res.LockedBy != holder {
		if res.LockExpired(time.Now()) {
			m.log.Warn("Force releasing expired lock", "resource", resourceID, "holder", res.LockedBy)
			m.clearLock(res)
		} else {
			if timeout > 0 {
				e.waiters.Enqueue(waiter{holder: holder, deadline: time.Now().Add(timeout)})
			}
			m.log.Debug("Resource is locked", "resource", resourceID, "holder", res.LockedBy)
			return false
		}
	}

	m.grant(res, holder, timeout)
	m.log.Info("Lock acquired", "resource", resourceID, "holder", holder)
	return true
}

// ReleaseLock releases the lock if holder currently owns it, then serves
// the next live waiter in FIFO order.
func (m *Manager) ReleaseLock(resourceID, holder string) bool {
	e := m.entry(resourceID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res.LockedBy != holder {
		m.log.Warn("Lock release attempt by non-owner", "resource", resourceID, "holder", holder, "owner", e.res.LockedBy)
		return false
	}

	m.clearLock(e.res)
	m.serveQueue(e)
	m.log.Info("Lock released", "resource", resourceID, "holder", holder)
	return true
}

// ForceReleaseLock releases a lock regardless of holder. Administrative
// override for supervisory recovery, never for ordinary workers.
func (m *Manager) ForceReleaseLock(resourceID string) bool {
	e := m.entry(resourceID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	oldHolder := e.res.LockedBy
	m.clearLock(e.res)
	m.serveQueue(e)
	m.log.Warn("Force released lock", "resource", resourceID, "previousHolder", oldHolder)
	return true
}

// IsLocked reports whether the resource is currently held, releasing the
// lock first if it has expired.
func (m *Manager) IsLocked(resourceID string) bool {
	return m.LockHolder(resourceID) != ""
}

// LockHolder returns the current holder, or "" when unlocked, unknown,
// or expired. Expired locks are released as a side effect.
func (m *Manager) LockHolder(resourceID string) string {
	e := m.entry(resourceID)
	if e == nil {
		return ""
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.res.Locked() && e.res.LockExpired(time.Now()) {
		m.log.Warn("Force releasing expired lock", "resource", resourceID, "holder", e.res.LockedBy)
		m.clearLock(e.res)
		m.serveQueue(e)
	}
	return e.res.LockedBy
}

// CleanupExpiredLocks sweeps all resources and force-releases any lock
// past its TTL. Returns the number of locks released.
func (m *Manager) CleanupExpiredLocks() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	released := 0
	now := time.Now()
	for _, id := range ids {
		e := m.entry(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if e.res.Locked() && e.res.LockExpired(now) {
			m.clearLock(e.res)
			m.serveQueue(e)
			released++
		}
		e.mu.Unlock()
	}

	if released > 0 {
		m.log.Info("Cleaned up expired locks", "count", released)
	}
	return released
}

// ResourceStatus describes one resource in a lock status snapshot.
type ResourceStatus struct {
	Locked      bool       `json:"locked"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	Timeout     string     `json:"timeout,omitempty"`
	QueueLength int        `json:"queue_length"`
}

// Status is a point-in-time snapshot of all locks.
type Status struct {
	TotalResources  int                       `json:"total_resources"`
	LockedResources int                       `json:"locked_resources"`
	QueuedRequests  int                       `json:"queued_requests"`
	Resources       map[string]ResourceStatus `json:"resources"`
}

// GetLockStatus returns a snapshot of every registered resource. It is a
// side-effect-free read.
func (m *Manager) GetLockStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		TotalResources: len(m.entries),
		Resources:      make(map[string]ResourceStatus, len(m.entries)),
	}
	for id, e := range m.entries {
		e.mu.Lock()
		rs := ResourceStatus{
			Locked:      e.res.Locked(),
			LockedBy:    e.res.LockedBy,
			QueueLength: e.waiters.Size(),
		}
		if e.res.Locked() {
			at := e.res.LockedAt
			rs.LockedAt = &at
			if e.res.LockTimeout > 0 {
				rs.Timeout = e.res.LockTimeout.String()
			}
			status.LockedResources++
		}
		status.QueuedRequests += e.waiters.Size()
		e.mu.Unlock()
		status.Resources[id] = rs
	}
	return status
}

// grant records holder as the lock owner. Caller holds the entry mutex.
func (m *Manager) grant(res *types.TestResource, holder string, timeout time.Duration) {
	res.LockedBy = holder
	res.LockedAt = time.Now()
	res.LockTimeout = timeout
}

// clearLock wipes ownership state. Caller holds the entry mutex.
func (m *Manager) clearLock(res *types.TestResource) {
	res.LockedBy = ""
	res.LockedAt = time.Time{}
	res.LockTimeout = 0
}

// serveQueue drops expired waiters, then grants the lock to the next
// waiter in FIFO order. Caller holds the entry mutex and the resource
// must be unlocked.
func (m *Manager) serveQueue(e *entry) {
	now := time.Now()
	for {
		v, ok := e.waiters.Peek()
		if !ok {
			return
		}
		w := v.(waiter)
		if w.deadline.Before(now) {
			e.waiters.Dequeue()
			m.log.Debug("Dropped expired lock request", "resource", e.res.ResourceID, "holder", w.holder)
			continue
		}
		e.waiters.Dequeue()
		m.grant(e.res, w.holder, time.Until(w.deadline))
		m.log.Info("Granted queued lock", "resource", e.res.ResourceID, "holder", w.holder)
		return
	}
}
