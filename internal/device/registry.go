package device

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrAmbiguousSelection is returned by Single unless exactly one device
	// is registered.
	ErrAmbiguousSelection = errors.New("ambiguous device selection")
	// ErrNotRegistered is returned for operations on an unknown device.
	ErrNotRegistered = errors.New("device not registered")
)

// Metadata is what a container knows about a registered device.
type Metadata struct {
	// ContainerQualifier names the owning container; empty means none.
	ContainerQualifier string   `json:"container,omitempty"`
	DeploymentNames    []string `json:"deployments,omitempty"`
}

func (m Metadata) clone() Metadata {
	m.DeploymentNames = slices.Clone(m.DeploymentNames)
	return m
}

type registered struct {
	device Device
	meta   Metadata
}

// Registry maps devices, by serial, to their metadata. It belongs to a
// single container and is not safe for concurrent mutation.
type Registry struct {
	order   []string
	devices map[string]*registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*registered)}
}

// Put registers d, replacing the metadata of an already registered device.
func (r *Registry) Put(d Device, meta Metadata) {
	meta = meta.clone()
	meta.DeploymentNames = dedupe(meta.DeploymentNames)
	if e, ok := r.devices[d.Serial]; ok {
		e.device = d
		e.meta = meta
		return
	}
	r.devices[d.Serial] = &registered{device: d, meta: meta}
	r.order = append(r.order, d.Serial)
}

// Remove unregisters d and reports whether it was registered.
func (r *Registry) Remove(d Device) bool {
	if _, ok := r.devices[d.Serial]; !ok {
		return false
	}
	delete(r.devices, d.Serial)
	r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == d.Serial })
	return true
}

// RemoveByContainerQualifier unregisters every device owned by qualifier
// and returns how many were removed.
func (r *Registry) RemoveByContainerQualifier(qualifier string) int {
	removed := 0
	for _, serial := range slices.Clone(r.order) {
		e := r.devices[serial]
		if e.meta.ContainerQualifier == qualifier {
			r.Remove(e.device)
			removed++
		}
	}
	return removed
}

// Contains reports whether d is registered.
func (r *Registry) Contains(d Device) bool {
	_, ok := r.devices[d.Serial]
	return ok
}

// Size returns the number of registered devices.
func (r *Registry) Size() int {
	return len(r.order)
}

// Devices returns the registered devices in registration order.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.order))
	for _, serial := range r.order {
		out = append(out, r.devices[serial].device)
	}
	return out
}

// Metadata returns a copy of d's metadata.
func (r *Registry) Metadata(d Device) (Metadata, bool) {
	e, ok := r.devices[d.Serial]
	if !ok {
		return Metadata{}, false
	}
	return e.meta.clone(), true
}

// Single returns the only registered device.
func (r *Registry) Single() (Device, error) {
	if len(r.order) != 1 {
		return Device{}, fmt.Errorf("%w: %d devices registered, select one by container or deployment", ErrAmbiguousSelection, len(r.order))
	}
	return r.devices[r.order[0]].device, nil
}

// ByContainerQualifier returns the first device owned by qualifier.
func (r *Registry) ByContainerQualifier(qualifier string) (Device, bool) {
	return r.find(func(m Metadata) bool {
		return m.ContainerQualifier == qualifier
	})
}

// ByDeploymentName returns the first device the deployment was made to.
func (r *Registry) ByDeploymentName(name string) (Device, bool) {
	return r.find(func(m Metadata) bool {
		return slices.Contains(m.DeploymentNames, name)
	})
}

// AddDeployment records that name was deployed to d.
func (r *Registry) AddDeployment(d Device, name string) error {
	e, ok := r.devices[d.Serial]
	if !ok {
		return fmt.Errorf("add deployment %s to %s: %w", name, d.Serial, ErrNotRegistered)
	}
	if !slices.Contains(e.meta.DeploymentNames, name) {
		e.meta.DeploymentNames = append(e.meta.DeploymentNames, name)
	}
	return nil
}

// RemoveDeployment forgets that name was deployed to d.
func (r *Registry) RemoveDeployment(d Device, name string) {
	if e, ok := r.devices[d.Serial]; ok {
		e.meta.DeploymentNames = slices.DeleteFunc(e.meta.DeploymentNames, func(n string) bool { return n == name })
	}
}

func (r *Registry) find(match func(Metadata) bool) (Device, bool) {
	for _, serial := range r.order {
		e := r.devices[serial]
		if match(e.meta) {
			return e.device, true
		}
	}
	return Device{}, false
}

func dedupe(names []string) []string {
	out := names[:0]
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
