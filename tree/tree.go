package tree

import (
	"github.com/pkg/errors"

	"github.com/outofforest/mass"
	"github.com/outofforest/revdb/types"
)

const massSize = 64

type entry[T any] struct {
	Value T
}

// New creates new tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{
		massEntry: mass.New[entry[T]](massSize),
		entries:   map[types.UniqueID]*entry[T]{},
	}
}

// Tree stores values keyed by unique ID of the object they belong to.
// Every added key must be popped exactly once.
type Tree[T any] struct {
	massEntry *mass.Mass[entry[T]]
	entries   map[types.UniqueID]*entry[T]
}

// Add adds value to the tree.
func (t *Tree[T]) Add(id types.UniqueID, v T) error {
	if _, exists := t.entries[id]; exists {
		return errors.Errorf("duplicate object %d", id)
	}
	e := t.massEntry.New()
	e.Value = v
	t.entries[id] = e
	return nil
}

// Pop removes value from the tree and returns it.
func (t *Tree[T]) Pop(id types.UniqueID) (T, error) {
	e, exists := t.entries[id]
	if !exists {
		var zero T
		return zero, errors.Errorf("object %d not found", id)
	}
	delete(t.entries, id)

	v := e.Value
	var zero T
	e.Value = zero
	return v, nil
}

// Len returns the number of values in the tree.
func (t *Tree[T]) Len() int {
	return len(t.entries)
}
