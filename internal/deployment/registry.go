package deployment

import (
	"errors"
	"fmt"
)

var (
	// ErrEmpty is returned by Last on an empty registry.
	ErrEmpty = errors.New("registry is empty")
	// ErrDuplicate is returned when a key is added twice.
	ErrDuplicate = errors.New("duplicate deployment")
	// ErrNotFound is returned by Get for an unknown key.
	ErrNotFound = errors.New("deployment not found")
)

// Registry is an append-only, insertion-ordered store of records keyed by
// their source archive. It is owned by a single container and is not safe
// for concurrent mutation.
type Registry[T Record] struct {
	order []T
	byKey map[string]T
}

// NewRegistry creates an empty registry.
func NewRegistry[T Record]() *Registry[T] {
	return &Registry[T]{byKey: make(map[string]T)}
}

// Add appends r.
func (r *Registry[T]) Add(rec T) error {
	key := rec.Key()
	if _, ok := r.byKey[key]; ok {
		return fmt.Errorf("add %s: %w", key, ErrDuplicate)
	}
	r.byKey[key] = rec
	r.order = append(r.order, rec)
	return nil
}

// Get returns the record with the given key.
func (r *Registry[T]) Get(key string) (T, error) {
	rec, ok := r.byKey[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return rec, nil
}

// Last returns the most recently added record.
func (r *Registry[T]) Last() (T, error) {
	if len(r.order) == 0 {
		var zero T
		return zero, ErrEmpty
	}
	return r.order[len(r.order)-1], nil
}

// Size returns the number of records.
func (r *Registry[T]) Size() int {
	return len(r.order)
}

// All returns the records in insertion order.
func (r *Registry[T]) All() []T {
	return append([]T(nil), r.order...)
}
