package health

import (
	"sort"
	"sync"
)

// CheckFunc reports the current health of one component. Checks run on
// every health request, so they must be cheap and non-blocking.
type CheckFunc func() Status

// Monitor evaluates registered component checks on demand and
// aggregates them into a single system status.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]CheckFunc),
	}
}

// Register adds or replaces the check for a named component. Nil checks
// are ignored.
func (m *Monitor) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Get runs the check for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	check, exists := m.checks[name]
	m.mu.RUnlock()
	if !exists {
		return Status{}, false
	}

	status := check()
	status.Component = name
	return status, true
}

// Overall runs every check and aggregates the results under the given
// system name. Sub-statuses are ordered by component name so the
// response is stable across requests.
func (m *Monitor) Overall(systemName string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	subStatuses := make([]Status, 0, len(names))
	for _, name := range names {
		if status, ok := m.Get(name); ok {
			subStatuses = append(subStatuses, status)
		}
	}

	return Aggregate(systemName, subStatuses)
}

// ListComponents returns the names of all registered checks.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered checks.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checks)
}
