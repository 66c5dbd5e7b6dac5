// Package sessionmgr implements the Session Manager: it holds the
// tenant -> SessionInfo registry, the global worker budget, and the
// idle-eviction background sweep. The process builds exactly one
// Manager at startup and hands it to the control plane through
// construction, like every other dependency.
package sessionmgr

import (
	"sync"
	"time"

	"github.com/nortis/idverify/pkg/log"
	"github.com/nortis/idverify/pkg/metrics"
	"github.com/nortis/idverify/pkg/orchestrator"
	"github.com/nortis/idverify/pkg/types"
)

// CleanupInterval is how often the idle-eviction sweep runs.
const CleanupInterval = 300 * time.Second

type sessionInfo struct {
	orchestrator *orchestrator.Orchestrator
	lastActivity time.Time
	workerCount  int
}

// Manager is the process-wide session registry.
type Manager struct {
	mu               sync.Mutex
	sessions         map[string]*sessionInfo
	totalWorkers     int
	maxGlobalWorkers int
	idleTimeout      time.Duration
	stopCh           chan struct{}
}

// New constructs a Session Manager with the given global worker budget
// and idle-session timeout.
func New(maxGlobalWorkers int, idleTimeout time.Duration) *Manager {
	metrics.WorkerPoolCapacity.Set(float64(maxGlobalWorkers))
	return &Manager{
		sessions:         make(map[string]*sessionInfo),
		maxGlobalWorkers: maxGlobalWorkers,
		idleTimeout:      idleTimeout,
		stopCh:           make(chan struct{}),
	}
}

func (m *Manager) getOrCreateLocked(tenantID string) *sessionInfo {
	si, ok := m.sessions[tenantID]
	if !ok {
		si = &sessionInfo{}
		m.sessions[tenantID] = si
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	return si
}

// Touch creates the session if absent and refreshes its last-activity
// time. Every valid tenant-scoped request calls this.
func (m *Manager) Touch(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si := m.getOrCreateLocked(tenantID)
	si.lastActivity = time.Now()
}

// CanStart reports whether adding n workers would stay within budget.
func (m *Manager) CanStart(n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalWorkers+n <= m.maxGlobalWorkers
}

// RegisterWorkers records n additional live workers for the tenant.
func (m *Manager) RegisterWorkers(tenantID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si := m.getOrCreateLocked(tenantID)
	si.workerCount += n
	m.totalWorkers += n
	metrics.WorkerPoolSize.Set(float64(m.totalWorkers))
}

// UnregisterWorkers zeroes out the tenant's worker count.
func (m *Manager) UnregisterWorkers(tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.sessions[tenantID]
	if !ok {
		return
	}
	m.totalWorkers -= si.workerCount
	si.workerCount = 0
	metrics.WorkerPoolSize.Set(float64(m.totalWorkers))
}

// GetOrchestrator returns the tenant's orchestrator, if any.
func (m *Manager) GetOrchestrator(tenantID string) (*orchestrator.Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.sessions[tenantID]
	if !ok || si.orchestrator == nil {
		return nil, false
	}
	return si.orchestrator, true
}

// SetOrchestrator attaches an orchestrator to the tenant's session,
// creating the session if absent.
func (m *Manager) SetOrchestrator(tenantID string, o *orchestrator.Orchestrator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si := m.getOrCreateLocked(tenantID)
	si.orchestrator = o
}

// Stats returns the process-wide, non-tenant-scoped snapshot.
func (m *Manager) Stats() types.ServerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.ServerStats{
		TotalWorkers:   m.totalWorkers,
		MaxWorkers:     m.maxGlobalWorkers,
		ActiveSessions: len(m.sessions),
	}
}

// StartIdleEviction launches the periodic cleanup-idle-sessions sweep.
func (m *Manager) StartIdleEviction() {
	go m.run()
}

func (m *Manager) run() {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupIdleSessions()
		case <-m.stopCh:
			return
		}
	}
}

// cleanupIdleSessions tears down sessions whose orchestrator is not
// running and whose last activity exceeds the timeout. The manager
// lock is never held while invoking a (possibly blocking) Stop.
func (m *Manager) cleanupIdleSessions() {
	now := time.Now()

	m.mu.Lock()
	var evict []string
	for tenantID, si := range m.sessions {
		running := si.orchestrator != nil && si.orchestrator.IsRunning()
		if !running && now.Sub(si.lastActivity) > m.idleTimeout {
			evict = append(evict, tenantID)
		}
	}
	m.mu.Unlock()

	for _, tenantID := range evict {
		m.mu.Lock()
		si, ok := m.sessions[tenantID]
		m.mu.Unlock()
		if !ok {
			continue
		}
		if si.orchestrator != nil {
			si.orchestrator.Stop()
		}

		m.mu.Lock()
		m.totalWorkers -= si.workerCount
		delete(m.sessions, tenantID)
		metrics.WorkerPoolSize.Set(float64(m.totalWorkers))
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
		m.mu.Unlock()

		metrics.SessionsEvictedTotal.Inc()
		log.WithTenant(tenantID).Info().Msg("evicted idle session")
	}
}

// DrainAll stops every live orchestrator. Called on process shutdown.
func (m *Manager) DrainAll() {
	m.mu.Lock()
	var orchestrators []*orchestrator.Orchestrator
	for _, si := range m.sessions {
		if si.orchestrator != nil {
			orchestrators = append(orchestrators, si.orchestrator)
		}
	}
	m.mu.Unlock()

	for _, o := range orchestrators {
		o.Stop()
	}
}

// Stop halts the idle-eviction background sweep.
func (m *Manager) Stop() {
	close(m.stopCh)
}
