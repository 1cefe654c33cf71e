// Package event implements the in-loop signalable wait primitive
// (component V): Signal marks it ready, Wait blocks until ready or a
// context deadline, consuming the readiness on return. Grounded on
// original_source/src/api/src/api.h's api_event_t (a single pending flag,
// no queueing of multiple signals).
package event

import (
	"context"

	"github.com/taskloop/taskloop/errs"
)

// Event is a single-waiter binary signal. A buffered channel of size 1 is
// the readiness flag: Signal is a non-blocking send that coalesces with
// any already-pending signal, Wait is a receive raced against ctx.Done.
// No library in the pack models a bare signal flag more directly than
// this does natively; see DESIGN.md for why golang.org/x/sync/semaphore
// was used for async's concurrency bound instead of here.
type Event struct {
	pending chan struct{}
}

// New creates an unset Event.
func New() *Event {
	return &Event{pending: make(chan struct{}, 1)}
}

// Signal marks the event ready. Signals before a Wait consumes the first
// one are coalesced, not queued — mirroring the original's single pending
// flag.
func (e *Event) Signal() {
	select {
	case e.pending <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal has been called (possibly before this call) or
// ctx is done. A context deadline/cancellation translates to
// errs.ErrTimedOut, matching the original's timeout-based api_event_wait.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.pending:
		return nil
	case <-ctx.Done():
		return errs.New("event.wait", errs.TimedOut)
	}
}
