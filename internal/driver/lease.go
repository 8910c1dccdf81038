package driver

import (
	"sync"
	"sync/atomic"

	slerrors "github.com/R3E-Network/docket_engine/infrastructure/errors"
)

// Lease is the exclusive right to mutate one case. Only the driver acquires
// leases; everything else reads lease-free.
type Lease struct {
	caseID    string
	queued    atomic.Bool
	cancelled atomic.Bool
}

// CaseID returns the case this lease covers.
func (l *Lease) CaseID() string { return l.caseID }

// Cancelled reports whether cancellation was requested. The running job
// checks it between files; an in-flight file finishes first.
func (l *Lease) Cancelled() bool { return l.cancelled.Load() }

// leaseMap tracks at most one live lease per case.
type leaseMap struct {
	mu   sync.Mutex
	held map[string]*Lease
}

func newLeaseMap() *leaseMap {
	return &leaseMap{held: make(map[string]*Lease)}
}

// acquire atomically claims the case. Fails with AlreadyRunning when a
// lease is held.
func (m *leaseMap) acquire(caseID string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.held[caseID]; exists {
		return nil, slerrors.AlreadyRunning(caseID)
	}
	lease := &Lease{caseID: caseID}
	m.held[caseID] = lease
	return lease, nil
}

// release drops the lease. Safe to call once per acquire on every exit
// path; releasing a lease that was superseded is a no-op.
func (m *leaseMap) release(lease *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.held[lease.caseID]; exists && current == lease {
		delete(m.held, lease.caseID)
	}
}

// cancel flags the case's live lease. Returns false when no job is active.
func (m *leaseMap) cancel(caseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, exists := m.held[caseID]
	if !exists {
		return false
	}
	lease.cancelled.Store(true)
	return true
}

// cancelAll flags every live lease. Used during shutdown.
func (m *leaseMap) cancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, lease := range m.held {
		lease.cancelled.Store(true)
	}
}

// isHeld reports whether a lease is live for the case.
func (m *leaseMap) isHeld(caseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.held[caseID]
	return exists
}

// isQueued reports whether the case's job is still waiting for a worker.
func (m *leaseMap) isQueued(caseID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lease, exists := m.held[caseID]
	return exists && lease.queued.Load()
}

// count returns the number of live leases.
func (m *leaseMap) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
