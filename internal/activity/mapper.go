// Package activity maps on-device activities to the automation drivers that
// control them and starts or stops activities through that mapping.
package activity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no activity matches a query.
	ErrNotFound = errors.New("driver instance not found")
	// ErrAmbiguous is returned when a partial query matches several
	// activities.
	ErrAmbiguous = errors.New("ambiguous driver instance")
)

// Driver is a remote automation client. Drivers are compared by identity,
// so implementations should be pointers.
type Driver interface {
	SessionID() string
}

// Mapper maps activity names to drivers. Names are fully qualified class
// names ("com.example.Main") or components ("com.example/com.example.Main").
// It is safe for concurrent use.
type Mapper struct {
	mu         sync.RWMutex
	activities map[string]Driver
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{activities: make(map[string]Driver)}
}

// Put maps every name to d, taking over names owned by other drivers.
func (m *Mapper) Put(d Driver, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.activities[n] = d
	}
}

// Resolve returns the stored activity name matching query and its driver.
// An exact match wins; otherwise query is matched as the trailing dotted or
// path segment of stored names and must match exactly one.
func (m *Mapper) Resolve(query string) (string, Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if d, ok := m.activities[query]; ok {
		return query, d, nil
	}

	var matches []string
	for name := range m.activities {
		if strings.HasSuffix(name, "."+query) || strings.HasSuffix(name, "/"+query) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("%w for activity %s", ErrNotFound, query)
	case 1:
		return matches[0], m.activities[matches[0]], nil
	}
	sort.Strings(matches)
	return "", nil, fmt.Errorf("%w for activity %s: matches %s; use a fully qualified name",
		ErrAmbiguous, query, strings.Join(matches, ", "))
}

// Instance returns the driver controlling the activity matching query.
func (m *Mapper) Instance(query string) (Driver, error) {
	_, d, err := m.Resolve(query)
	return d, err
}

// RemoveActivities drops every mapping to d and returns how many were
// removed.
func (m *Mapper) RemoveActivities(d Driver) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for name, owner := range m.activities {
		if owner == d {
			delete(m.activities, name)
			removed++
		}
	}
	return removed
}

// Activities returns the names mapped to d, sorted.
func (m *Mapper) Activities(d Driver) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, owner := range m.activities {
		if owner == d {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of mapped activities.
func (m *Mapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activities)
}
