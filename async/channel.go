// Package async implements the cross-loop dispatch primitive (component
// A): a thread-safe job channel any goroutine can submit closures to, plus
// a bounded-concurrency promise helper for running arbitrary blocking Go
// functions without stalling the owning loop. Grounded on the teacher's
// eventloop.Loop.Submit/SubmitInternal (mpscq.Queue + OS wake) and
// Promisify (goroutine + context + single-owner resolution).
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/taskloop/taskloop/mpscq"
)

// ErrClosed is returned by Submit once the channel has been closed.
var ErrClosed = errors.New("async: channel closed")

// ErrGoexit rejects a Promise whose function called runtime.Goexit
// instead of returning.
var ErrGoexit = errors.New("async: goroutine exited via runtime.Goexit")

// PanicError wraps a panic value recovered from a Promisify goroutine.
type PanicError struct{ Value any }

func (e PanicError) Error() string { return fmt.Sprintf("async: goroutine panicked: %v", e.Value) }

// Job is a closure submitted across loops, always executed on the owning
// loop's own goroutine.
type Job = func()

// Channel is the cross-loop submission point for one loop: any goroutine
// (another loop's thread, or an arbitrary Go goroutine) may Submit a Job;
// the owning loop alone calls Drain from its own goroutine.
type Channel struct {
	queue  *mpscq.Queue[Job]
	wake   func() error
	closed bool
	mu     sync.Mutex // guards closed only; queue itself needs no lock
}

// New creates a Channel. wake is called after every successful Submit so
// the owning loop's blocked poller Wait returns promptly; it is typically
// iopoll.Poller.PostWake.
func New(wake func() error) *Channel {
	return &Channel{queue: mpscq.New[Job](), wake: wake}
}

// Submit enqueues fn for execution on the owning loop's goroutine. Safe
// for concurrent use by any number of callers.
func (c *Channel) Submit(fn Job) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.queue.Push(fn)
	if c.wake != nil {
		return c.wake()
	}
	return nil
}

// Drain runs up to budget pending jobs inline, returning how many ran.
// Must only be called from the owning loop's own goroutine.
func (c *Channel) Drain(budget int) int {
	buf := make([]Job, budget)
	n := c.queue.PopBatch(buf)
	for i := 0; i < n; i++ {
		buf[i]()
	}
	return n
}

// Close marks the channel closed; further Submit calls fail with
// ErrClosed. Already-queued jobs are unaffected and can still be drained.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Pending reports the number of jobs not yet drained.
func (c *Channel) Pending() int64 { return c.queue.Len() }

// Promise observes the eventual outcome of a Promisify call.
type Promise struct {
	done  chan struct{}
	value any
	err   error
}

// Wait blocks until the promise settles (or ctx is done) and returns its
// outcome.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Promise) resolve(v any) {
	p.value = v
	close(p.done)
}

func (p *Promise) reject(err error) {
	p.err = err
	close(p.done)
}

// Promisify runs fn on a new goroutine, bounded by limit (nil means
// unbounded), and submits its settlement back onto channel so the result
// is observed on the owning loop's own goroutine — never directly from
// fn's goroutine. Mirrors the teacher's Promisify: Goexit and panics both
// reject rather than hang or crash the process.
func Promisify(ctx context.Context, channel *Channel, limit *semaphore.Weighted, fn func(context.Context) (any, error)) *Promise {
	p := &Promise{done: make(chan struct{})}

	if limit != nil {
		if err := limit.Acquire(ctx, 1); err != nil {
			p.reject(err)
			return p
		}
	}

	go func() {
		if limit != nil {
			defer limit.Release(1)
		}

		completed := false
		defer func() {
			if r := recover(); r != nil {
				settle(channel, p, nil, PanicError{Value: r})
				return
			}
			if !completed {
				settle(channel, p, nil, ErrGoexit)
			}
		}()

		res, err := fn(ctx)
		completed = true
		settle(channel, p, res, err)
	}()

	return p
}

func settle(channel *Channel, p *Promise, v any, err error) {
	submit := func() {
		if err != nil {
			p.reject(err)
		} else {
			p.resolve(v)
		}
	}
	if channel == nil {
		submit()
		return
	}
	if subErr := channel.Submit(submit); subErr != nil {
		// Owning loop is gone; settle directly so the promise never hangs.
		submit()
	}
}
