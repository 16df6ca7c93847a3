package activity

import (
	"context"
	"fmt"
	"strings"
)

// Starter is the device channel used to start and stop activities.
type Starter interface {
	StartActivity(ctx context.Context, component string) error
	KillPackage(ctx context.Context, pkg string) error
}

// Manager starts and stops activities resolved through a Mapper.
type Manager struct {
	mapper  *Mapper
	starter Starter
}

// NewManager creates a manager.
func NewManager(mapper *Mapper, starter Starter) *Manager {
	return &Manager{mapper: mapper, starter: starter}
}

// Component joins a package and an activity into "package/activity".
func Component(pkg, activity string) string {
	return pkg + "/" + activity
}

// SplitComponent splits "package/activity".
func SplitComponent(component string) (pkg, activity string, ok bool) {
	pkg, activity, ok = strings.Cut(component, "/")
	if !ok || pkg == "" || activity == "" {
		return "", "", false
	}
	return pkg, activity, true
}

// Start starts the activity matching query and returns the driver that
// controls it.
func (m *Manager) Start(ctx context.Context, query string) (Driver, error) {
	name, d, err := m.mapper.Resolve(query)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", query, err)
	}
	if _, _, ok := SplitComponent(name); !ok {
		return nil, fmt.Errorf("start %s: activity %s is not registered with its package", query, name)
	}
	if err := m.starter.StartActivity(ctx, name); err != nil {
		return nil, err
	}
	return d, nil
}

// Stop kills the package of the activity matching query.
func (m *Manager) Stop(ctx context.Context, query string) error {
	name, _, err := m.mapper.Resolve(query)
	if err != nil {
		return fmt.Errorf("stop %s: %w", query, err)
	}
	pkg, _, ok := SplitComponent(name)
	if !ok {
		return fmt.Errorf("stop %s: activity %s is not registered with its package", query, name)
	}
	return m.starter.KillPackage(ctx, pkg)
}
