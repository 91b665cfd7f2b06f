// Package pool manages fixed-capacity pools of interchangeable resource
// slots with FIFO waiting queues and periodic health scoring.
package pool

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/AlbertGroenwold/behave-framework-sub000/types"
)

// DefaultHealthInterval is how often pool health is re-scored.
const DefaultHealthInterval = 30 * time.Second

// pending is a queued allocation request. Requests with a deadline in
// the past are dropped when the queue drains.
type pending struct {
	workerID    string
	requestTime time.Time
	deadline    time.Time
}

// poolEntry pairs a pool with its own mutex, waiter queue, and a
// monotonic sequence for synthetic resource ids.
type poolEntry struct {
	mu      sync.Mutex
	pool    *types.ResourcePool
	waiters *linkedlistqueue.Queue
	seq     int
}

// Manager tracks resource pools. Allocation is non-blocking: when a pool
// is exhausted the request either queues (timeout > 0) or is refused,
// and queued requests are fulfilled in FIFO order as slots free up.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*poolEntry
	log   log.Logger

	running  atomic.Bool
	done     chan struct{}
	wg       sync.WaitGroup
	interval time.Duration
}

// NewManager creates an empty pool manager. Health monitoring starts
// only when StartHealthMonitoring is called.
func NewManager(logger log.Logger) *Manager {
	return &Manager{
		pools:    make(map[string]*poolEntry),
		log:      logger.New("component", "pool-manager"),
		interval: DefaultHealthInterval,
	}
}

// CreateResourcePool registers a new pool with the given capacity.
func (m *Manager) CreateResourcePool(poolID, resourceType string, capacity int) error {
	if capacity <= 0 {
		return errors.Errorf("pool %s: capacity must be positive, got %d", poolID, capacity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[poolID]; ok {
		return errors.Errorf("pool %s already exists", poolID)
	}

	m.pools[poolID] = &poolEntry{
		pool: &types.ResourcePool{
			PoolID:             poolID,
			ResourceType:       resourceType,
			TotalCapacity:      capacity,
			AvailableCapacity:  capacity,
			AllocatedResources: make(map[string]string),
			HealthStatus:       types.PoolHealthy,
		},
		waiters: linkedlistqueue.New(),
	}

	m.log.Info("Created resource pool", "pool", poolID, "type", resourceType, "capacity", capacity)
	return nil
}

func (m *Manager) entry(poolID string) *poolEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[poolID]
}

// AllocateResource hands a slot from the pool to workerID, returning a
// synthetic resource id. When the pool is exhausted the request joins
// the FIFO queue if timeout > 0 (fulfilled later by ReleaseResource's
// queue drain) and the call returns ("", false) either way.
func (m *Manager) AllocateResource(poolID, workerID string, timeout time.Duration) (string, bool) {
	e := m.entry(poolID)
	if e == nil {
		return "", false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool.AvailableCapacity > 0 {
		resourceID := m.allocateLocked(e, workerID)
		m.log.Debug("Allocated resource", "pool", poolID, "resource", resourceID, "worker", workerID)
		return resourceID, true
	}

	if timeout > 0 {
		now := time.Now()
		e.waiters.Enqueue(pending{workerID: workerID, requestTime: now, deadline: now.Add(timeout)})
		m.log.Debug("Pool exhausted, queued request", "pool", poolID, "worker", workerID)
	}
	return "", false
}

// allocateLocked consumes one slot. Caller holds the entry mutex.
func (m *Manager) allocateLocked(e *poolEntry, workerID string) string {
	e.seq++
	resourceID := fmt.Sprintf("%s-resource-%d", e.pool.PoolID, e.seq)
	e.pool.AllocatedResources[resourceID] = workerID
	e.pool.AvailableCapacity--
	return resourceID
}

// ReleaseResource returns a slot to the pool. Only the worker the slot
// was allocated to may release it. Freed capacity is immediately offered
// to queued requests in FIFO order.
func (m *Manager) ReleaseResource(poolID, resourceID, workerID string) bool {
	e := m.entry(poolID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	owner, ok := e.pool.AllocatedResources[resourceID]
	if !ok || owner != workerID {
		return false
	}

	delete(e.pool.AllocatedResources, resourceID)
	e.pool.AvailableCapacity++
	m.drainQueueLocked(e)

	m.log.Debug("Released resource", "pool", poolID, "resource", resourceID, "worker", workerID)
	return true
}

// drainQueueLocked fulfills queued requests while capacity allows,
// dropping requests whose deadline has passed. Caller holds the entry
// mutex.
func (m *Manager) drainQueueLocked(e *poolEntry) {
	now := time.Now()
	for e.pool.AvailableCapacity > 0 {
		v, ok := e.waiters.Dequeue()
		if !ok {
			return
		}
		req := v.(pending)
		if req.deadline.Before(now) {
			m.log.Debug("Dropped expired pool request", "pool", e.pool.PoolID, "worker", req.workerID)
			continue
		}
		resourceID := m.allocateLocked(e, req.workerID)
		m.log.Debug("Fulfilled queued allocation", "pool", e.pool.PoolID, "resource", resourceID, "worker", req.workerID)
	}
}

// Allocations returns a copy of resource_id -> worker_id for a pool.
// Workers waiting on a queued request poll this to discover fulfillment.
func (m *Manager) Allocations(poolID string) map[string]string {
	e := m.entry(poolID)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]string, len(e.pool.AllocatedResources))
	for id, worker := range e.pool.AllocatedResources {
		out[id] = worker
	}
	return out
}

// Status describes one pool in a status snapshot.
type Status struct {
	PoolID            string           `json:"pool_id"`
	ResourceType      string           `json:"resource_type"`
	TotalCapacity     int              `json:"total_capacity"`
	AvailableCapacity int              `json:"available_capacity"`
	AllocatedCount    int              `json:"allocated_count"`
	WaitingQueue      int              `json:"waiting_queue_length"`
	HealthStatus      types.PoolHealth `json:"health_status"`
	UtilizationRate   float64          `json:"utilization_rate"`
}

// GetPoolStatus returns a snapshot of one pool. Side-effect-free read.
func (m *Manager) GetPoolStatus(poolID string) (Status, bool) {
	e := m.entry(poolID)
	if e == nil {
		return Status{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.statusLocked(e), true
}

// GetAllPoolStatus returns snapshots of every pool keyed by pool id.
func (m *Manager) GetAllPoolStatus() map[string]Status {
	m.mu.RLock()
	entries := make([]*poolEntry, 0, len(m.pools))
	for _, e := range m.pools {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make(map[string]Status, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := m.statusLocked(e)
		e.mu.Unlock()
		out[st.PoolID] = st
	}
	return out
}

func (m *Manager) statusLocked(e *poolEntry) Status {
	p := e.pool
	used := p.TotalCapacity - p.AvailableCapacity
	return Status{
		PoolID:            p.PoolID,
		ResourceType:      p.ResourceType,
		TotalCapacity:     p.TotalCapacity,
		AvailableCapacity: p.AvailableCapacity,
		AllocatedCount:    len(p.AllocatedResources),
		WaitingQueue:      e.waiters.Size(),
		HealthStatus:      p.HealthStatus,
		UtilizationRate:   float64(used) / float64(p.TotalCapacity) * 100,
	}
}

// StartHealthMonitoring launches the periodic health scoring loop.
// Calling it while already running is a no-op.
func (m *Manager) StartHealthMonitoring(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	m.interval = interval
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.healthLoop()
	m.log.Info("Started pool health monitoring", "interval", interval)
}

// StopHealthMonitoring stops the health loop and waits for it to exit.
func (m *Manager) StopHealthMonitoring() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.done)
	m.wg.Wait()
	m.log.Info("Stopped pool health monitoring")
}

func (m *Manager) healthLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckPoolHealth()
		case <-m.done:
			return
		}
	}
}

// CheckPoolHealth re-scores every pool from utilization and queue
// pressure. Exported so callers can force a scoring pass; the monitor
// loop calls it on its interval.
func (m *Manager) CheckPoolHealth() {
	m.mu.RLock()
	entries := make([]*poolEntry, 0, len(m.pools))
	for _, e := range m.pools {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.mu.Lock()
		p := e.pool
		utilization := float64(p.TotalCapacity-p.AvailableCapacity) / float64(p.TotalCapacity)
		queuePressure := float64(e.waiters.Size()) / float64(p.TotalCapacity)

		prev := p.HealthStatus
		switch {
		case utilization > 0.95 || queuePressure > 1.0:
			p.HealthStatus = types.PoolUnhealthy
		case utilization > 0.9 || queuePressure > 0.5:
			p.HealthStatus = types.PoolDegraded
		default:
			p.HealthStatus = types.PoolHealthy
		}
		if p.HealthStatus != prev {
			m.log.Warn("Pool health changed", "pool", p.PoolID, "from", prev, "to", p.HealthStatus,
				"utilization", utilization, "queuePressure", queuePressure)
		}
		e.mu.Unlock()
	}
}
