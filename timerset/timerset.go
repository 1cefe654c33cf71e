// Package timerset implements the bucketed timer service: timers sharing a
// period value are grouped into an ascending-ordered bucket, and a sweep
// stops walking a bucket at its first timer that has not yet elapsed (the
// FIFO order means no later timer in that bucket has either). Grounded on
// original_source/src/api/src/api_timer.c, with the original's ad-hoc
// doubly-linked bucket chain replaced by an ordered github.com/google/btree
// tree (per the design notes: "a standard ordered map keyed by bucket
// period is the drop-in replacement" for the suspected-incomplete
// red-black tree in the source).
package timerset

import "github.com/google/btree"

// Type selects which elapsed-test a timer's bucket uses during a sweep.
type Type int

const (
	// Sleep timers elapse once now - issued >= bucket period.
	Sleep Type = iota
	// Idle and Timeout timers elapse once now >= bucket period.
	Idle
	Timeout
)

// Timer is a single pending wait. Callers embed domain state (typically a
// *scheduler.Task to wake) in the Wake closure set at creation; the
// service never reaches into scheduler directly to avoid an
// import cycle and to keep the bucket sweep domain-agnostic.
type Timer struct {
	bucket  *bucket
	issued  uint64
	version uint64

	// Elapsed reports whether the timer fired naturally (vs. being woken by
	// Terminate, which never sets this).
	Elapsed bool

	// Wake is invoked synchronously when the timer elapses or the service
	// is terminated. It commonly resumes a sleeping task; because resuming
	// a task can itself register new timers before this sweep returns,
	// Wake must tolerate reentrant calls into Set on the same Service.
	Wake func()

	prev, next *Timer
}

type bucket struct {
	value uint64
	head  *Timer
	tail  *Timer
}

func (b *bucket) pushTail(t *Timer) {
	t.bucket = b
	t.prev = b.tail
	t.next = nil
	if b.tail != nil {
		b.tail.next = t
	} else {
		b.head = t
	}
	b.tail = t
}

func (b *bucket) remove(t *Timer) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		b.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		b.tail = t.prev
	}
	t.prev, t.next = nil, nil
}

func bucketLess(a, b *bucket) bool { return a.value < b.value }

// Service manages the buckets for a single timer Type on a single loop.
// Not safe for concurrent use; it is owned exclusively by the loop's own
// goroutine, same as the rest of the scheduler.
type Service struct {
	typ     Type
	buckets *btree.BTreeG[*bucket]
	version uint64
	now     func() uint64
}

// New creates a Service for the given Type. now supplies the current time
// in the same units as the `value` arguments passed to Set/Process
// (typically milliseconds since some monotonic epoch — see loop.Now).
func New(typ Type, now func() uint64) *Service {
	return &Service{typ: typ, buckets: btree.NewG(32, bucketLess), now: now}
}

// Set (re)schedules timer into the bucket keyed by value (a period,
// shared by every timer in the same bucket), first detaching it from
// wherever it currently is. Sleep and Timeout services additionally stamp
// the timer's issued time at insertion; Process then tests elapsed
// against (issued, period) for Sleep or against the raw period for
// Idle/Timeout. A value of 0 removes the timer without rescheduling it.
func (s *Service) Set(timer *Timer, value uint64) {
	if timer.bucket != nil {
		b := timer.bucket
		b.remove(timer)
		if b.value == value {
			// Reset to the same period: move to the tail of the same bucket.
			s.add(b, timer)
			return
		}
		if b.head == nil {
			s.buckets.Delete(b)
		}
		timer.bucket = nil
	}

	if value == 0 {
		return
	}

	key := &bucket{value: value}
	b, found := s.buckets.Get(key)
	if !found {
		b = key
		s.buckets.ReplaceOrInsert(b)
	}
	s.add(b, timer)
}

func (s *Service) add(b *bucket, timer *Timer) {
	if s.typ == Sleep || s.typ == Timeout {
		timer.issued = s.now()
	}
	s.version++
	timer.version = s.version
	b.pushTail(timer)
}

// Process sweeps every bucket in ascending order, waking each timer that
// has elapsed against `value`; within a bucket it stops at the first timer
// that has not, then moves on to the next bucket. Timers set during this very call
// (version stamped after the sweep's snapshot) are left untouched until
// the next sweep. Returns the number of timers woken.
func (s *Service) Process(value uint64) int {
	version := s.version
	snapshot := s.snapshotBuckets()

	count := 0
	for _, b := range snapshot {
		timer := b.head
		for timer != nil {
			if timer.version > version {
				timer = timer.next
				continue
			}

			var elapsed bool
			if s.typ == Sleep {
				elapsed = value-timer.issued >= b.value
			} else {
				elapsed = value >= b.value
			}
			if !elapsed {
				break
			}

			next := timer.next
			b.remove(timer)
			timer.bucket = nil
			timer.Elapsed = true
			if timer.Wake != nil {
				timer.Wake()
			}
			count++
			timer = next
		}

		if b.head == nil {
			s.buckets.Delete(b)
		}
	}
	return count
}

// Terminate wakes every pending timer without marking it elapsed, so
// callers observe a forced wake (they typically translate this into
// errs.ErrTerminate) distinct from a normal fire.
func (s *Service) Terminate() {
	snapshot := s.snapshotBuckets()
	for _, b := range snapshot {
		timer := b.head
		for timer != nil {
			next := timer.next
			b.remove(timer)
			timer.bucket = nil
			if timer.Wake != nil {
				timer.Wake()
			}
			timer = next
		}
		if b.head == nil {
			s.buckets.Delete(b)
		}
	}
}

func (s *Service) snapshotBuckets() []*bucket {
	snapshot := make([]*bucket, 0, s.buckets.Len())
	s.buckets.Ascend(func(b *bucket) bool {
		snapshot = append(snapshot, b)
		return true
	})
	return snapshot
}

// Empty reports whether the service has no pending timers.
func (s *Service) Empty() bool { return s.buckets.Len() == 0 }

// Nearest returns the period value of the smallest (soonest-elapsing)
// bucket and the issued timestamp of its head timer, or ok=false if the
// service has no pending timers. For Sleep services the caller computes
// the remaining wait as (issued+value)-now; for Idle/Timeout services, as
// value-elapsedSinceActivity.
func (s *Service) Nearest() (value uint64, issued uint64, ok bool) {
	b, found := s.buckets.Min()
	if !found || b.head == nil {
		return 0, 0, false
	}
	return b.value, b.head.issued, true
}
