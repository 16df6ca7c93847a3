package container

import (
	"context"
	"fmt"

	"droidium/internal/activity"
	"droidium/internal/manifest"
)

// attachable reports why the named deployment cannot accept drivers, or
// nil. Caller must hold at least a read lock.
func (c *Container) attachable(name string) (Status, error) {
	st, ok := c.statuses[name]
	if !ok {
		return Status{}, ErrNotDeployed
	}
	if c.undeploying[name] {
		return *st, fmt.Errorf("deployment is being undeployed")
	}
	if st.State != StateDeployed && st.State != StateInstrumented {
		return *st, fmt.Errorf("deployment is %s", st.State)
	}
	if st.Package == "" {
		return *st, fmt.Errorf("package unknown")
	}
	return *st, nil
}

// AttachDriver maps every activity declared by the named deployment to d.
// The deployment must be installed: plainly deployed or instrumented. An
// attach racing an Undeploy of the same deployment fails and maps nothing.
func (c *Container) AttachDriver(ctx context.Context, d activity.Driver, name string) error {
	c.mu.RLock()
	status, err := c.attachable(name)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("attach driver to %s: %w", name, err)
	}

	names, err := c.inspector.Activities(ctx, status.Archive)
	if err != nil {
		return fmt.Errorf("attach driver to %s: %w", name, err)
	}
	components := make([]string, 0, len(names))
	for _, n := range names {
		components = append(components, activity.Component(status.Package, manifest.Qualify(status.Package, n)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.attachable(name)
	if err == nil && (current.Archive != status.Archive || current.Package != status.Package) {
		err = fmt.Errorf("deployment was replaced")
	}
	if err != nil {
		return fmt.Errorf("attach driver to %s: %w", name, err)
	}
	c.mapper.Put(d, components...)
	c.drivers[d] = name

	c.logger.Printf("attached driver %s to %s (%d activities)", d.SessionID(), name, len(components))
	return nil
}

// DetachDriver removes every activity mapped to d.
func (c *Container) DetachDriver(d activity.Driver) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, d)
	return c.mapper.RemoveActivities(d)
}

// evictDriversUnlocked detaches the drivers attached to the named
// deployment. Caller must hold the lock.
func (c *Container) evictDriversUnlocked(name string) {
	for d, owner := range c.drivers {
		if owner != name {
			continue
		}
		delete(c.drivers, d)
		n := c.mapper.RemoveActivities(d)
		c.logger.Printf("evicted driver %s from %s (%d activities)", d.SessionID(), name, n)
	}
}
