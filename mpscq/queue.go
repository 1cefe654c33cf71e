// Package mpscq implements a lock-free multi-producer single-consumer
// queue using the stub-node technique (Dmitry Vyukov's algorithm); each
// pushed value is wrapped in a queue-owned node. Grounded on the teacher's
// eventloop/internal/alternatetwo/ingress.go LockFreeIngress, generalized
// from a fixed Task payload to any value type; async.Channel uses it to
// queue its cross-loop jobs.
package mpscq

import "sync/atomic"

type node[T any] struct {
	val  T
	next atomic.Pointer[node[T]]
}

// Queue is a lock-free MPSC queue. Any number of goroutines may Push
// concurrently; Pop/PopBatch must only ever be called from a single
// consumer goroutine (the owning loop's thread).
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]
	stub node[T]
	len  atomic.Int64
	free func() *node[T]
	put  func(*node[T])
}

// New creates an empty queue. An initial stub/sentinel node anchors both
// head and tail so Push/Pop never observe a nil pointer.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.head.Store(&q.stub)
	q.tail.Store(&q.stub)
	return q
}

func (q *Queue[T]) getNode() *node[T] {
	if q.free != nil {
		if n := q.free(); n != nil {
			var zero T
			n.val = zero
			n.next.Store(nil)
			return n
		}
	}
	return &node[T]{}
}

func (q *Queue[T]) putNode(n *node[T]) {
	if q.put != nil {
		q.put(n)
	}
}

// Push enqueues v. Safe for concurrent use by multiple producers.
func (q *Queue[T]) Push(v T) {
	n := q.getNode()
	n.val = v
	prev := q.tail.Swap(n)
	// Linearization point: once prev.next is set, the next Pop can see n;
	// a Pop that ran before this store reported the queue empty.
	prev.next.Store(n)
	q.len.Add(1)
}

// Pop removes and returns the oldest value. Must only be called by the
// single consumer. Returns ok=false if the queue is currently empty (which,
// under a concurrent Push that has swapped the tail but not yet linked
// prev.next, can transiently report empty even though a Push is in
// flight — callers should retry rather than treat it as permanently empty).
func (q *Queue[T]) Pop() (v T, ok bool) {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return v, false
	}
	q.head.Store(next)
	v = next.val
	var zero T
	next.val = zero
	if head != &q.stub {
		q.putNode(head)
	}
	q.len.Add(-1)
	return v, true
}

// PopBatch drains up to len(buf) values into buf, returning the count
// popped. Must only be called by the single consumer.
func (q *Queue[T]) PopBatch(buf []T) int {
	n := 0
	for n < len(buf) {
		v, ok := q.Pop()
		if !ok {
			break
		}
		buf[n] = v
		n++
	}
	return n
}

// Len returns an approximate current length; accurate only when no
// concurrent Push/Pop is in flight.
func (q *Queue[T]) Len() int64 { return q.len.Load() }

// Empty reports whether the queue currently has no linked successor to the
// head. See the Pop doc comment for the transient-empty caveat.
func (q *Queue[T]) Empty() bool {
	return q.head.Load().next.Load() == nil
}
