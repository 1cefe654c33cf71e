// Package pool provides a generic sync.Pool-backed object pool, used by
// the scheduler to recycle task structs without per-allocation GC churn.
// Grounded on the chunk-recycling pattern in the teacher's eventloop
// ingress queue (sync.Pool of fixed-size chunks, reset on return).
package pool

import "sync"

// Pool recycles values of type T. New must return a ready-to-use zero
// value; Reset is called before a value re-enters circulation and should
// clear any state that must not leak between uses.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

// New creates a Pool whose values are produced by newFn and cleared by
// resetFn before reuse. resetFn may be nil if no state needs cleanup.
func New[T any](newFn func() *T, resetFn func(*T)) *Pool[T] {
	return &Pool[T]{
		p:     sync.Pool{New: func() any { return newFn() }},
		reset: resetFn,
	}
}

// Get returns a recycled value, or a freshly constructed one.
func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

// Put resets and returns v to the pool for future reuse.
func (p *Pool[T]) Put(v *T) {
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}
