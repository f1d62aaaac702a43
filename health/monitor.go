package health

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Monitor tracks the health of the pipeline's components. Statuses are
// either pushed with Update or pulled from registered Reporters on Refresh.
type Monitor struct {
	mu        sync.RWMutex
	statuses  map[string]Status
	reporters map[string]Reporter
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses:  make(map[string]Status),
		reporters: make(map[string]Reporter),
	}
}

// Watch registers a reporter polled on every Refresh under name.
func (m *Monitor) Watch(name string, r Reporter) {
	m.mu.Lock()
	m.reporters[name] = r
	m.mu.Unlock()
	m.Update(name, r.Health())
}

// Unwatch stops polling name and forgets its status.
func (m *Monitor) Unwatch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reporters, name)
	delete(m.statuses, name)
}

// Refresh polls every reporter. Reporters are called without the monitor
// lock held.
func (m *Monitor) Refresh() {
	m.mu.RLock()
	reporters := maps.Clone(m.reporters)
	m.mu.RUnlock()

	for name, r := range reporters {
		m.Update(name, r.Health())
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.statuses)
}

// AggregateHealth refreshes reporters and returns the combined status.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.Refresh()

	m.mu.RLock()
	defer m.mu.RUnlock()

	subStatuses := make([]Status, 0, len(m.statuses))
	for _, name := range slices.Sorted(maps.Keys(m.statuses)) {
		subStatuses = append(subStatuses, m.statuses[name])
	}

	return Aggregate(systemName, subStatuses)
}

// ListComponents returns the monitored component names in order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.statuses))
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// Clear removes all components from monitoring
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[string]Status)
	m.reporters = make(map[string]Reporter)
}
