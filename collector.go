package revdb

import (
	"runtime"
	"sync"

	"github.com/outofforest/revdb/types"
)

// Object is the object tracked by the engine.
type Object interface {
	UniqueID() types.UniqueID
}

// Collector reports objects which became unreachable during recording.
// Callbacks must be called from single goroutine at a time.
type Collector interface {
	SetFinalizer(obj Object, fn func(obj Object))
}

// RuntimeCollector uses finalizers of the go runtime.
type RuntimeCollector struct{}

// SetFinalizer sets the finalizer of the object.
func (RuntimeCollector) SetFinalizer(obj Object, fn func(obj Object)) {
	runtime.SetFinalizer(obj, fn)
}

// NewExplicitCollector creates collector releasing objects on request.
func NewExplicitCollector() *ExplicitCollector {
	return &ExplicitCollector{
		finalizers: map[Object]func(obj Object){},
	}
}

// ExplicitCollector is the collector used by programs managing object lifetime on their own.
type ExplicitCollector struct {
	mu         sync.Mutex
	finalizers map[Object]func(obj Object)
}

// SetFinalizer sets the finalizer of the object.
func (c *ExplicitCollector) SetFinalizer(obj Object, fn func(obj Object)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.finalizers[obj] = fn
}

// Release reports that object is unreachable. False is returned if object has no finalizer.
// Finalizers of concurrently released objects are called one at a time.
func (c *ExplicitCollector) Release(obj Object) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, exists := c.finalizers[obj]
	if !exists {
		return false
	}
	delete(c.finalizers, obj)
	fn(obj)
	return true
}
