// Package listx provides a minimal arena-friendly FIFO list, used in place
// of the original's intrusive linked lists (per the design notes' guidance
// to prefer owned/allocated lists over intrusive pointers in Go).
package listx

// List is a singly-linked FIFO of values of type T. The zero value is an
// empty, ready-to-use list.
type List[T any] struct {
	head *node[T]
	tail *node[T]
	n    int
}

type node[T any] struct {
	val  T
	next *node[T]
}

// PushBack appends v to the tail of the list.
func (l *List[T]) PushBack(v T) {
	n := &node[T]{val: v}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		l.tail.next = n
		l.tail = n
	}
	l.n++
}

// PopFront removes and returns the value at the head of the list.
func (l *List[T]) PopFront() (v T, ok bool) {
	if l.head == nil {
		return v, false
	}
	n := l.head
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	n.next = nil
	l.n--
	return n.val, true
}

// Front returns the head value without removing it.
func (l *List[T]) Front() (v T, ok bool) {
	if l.head == nil {
		return v, false
	}
	return l.head.val, true
}

// Len reports the number of elements currently in the list.
func (l *List[T]) Len() int { return l.n }

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool { return l.head == nil }
