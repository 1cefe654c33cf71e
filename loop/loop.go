// Package loop implements the event loop (component E): one per OS
// thread, owning a task scheduler, three bucketed timer services (sleep,
// idle, timeout), a readiness/completion-profile poller, and the
// cross-loop async channel. Grounded on
// original_source/src/api/src/unix/api_loop.c's api_loop_run_internal
// main iteration (fire sleeps, block in the poller, fire idles on a
// zero-event return, fire timeouts, repeat) and
// original_source/src/api/src/api_loop_base.c's wait-timeout calculation.
package loop

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/taskloop/taskloop/async"
	"github.com/taskloop/taskloop/config"
	"github.com/taskloop/taskloop/errs"
	"github.com/taskloop/taskloop/iopoll"
	"github.com/taskloop/taskloop/scheduler"
	"github.com/taskloop/taskloop/timerset"
)

type waiter struct {
	loop *Loop
	task *scheduler.Task
}

// Loop owns exactly one of everything: one scheduler, one poller, one set
// of timer services. It is not safe for concurrent use from outside its
// own goroutine except where documented (Post, Exec, Stop, Wait,
// StopAndWait, and the async Channel itself are the cross-goroutine
// surface; everything else is loop-thread-only, same as the source).
type Loop struct {
	cfg    config.Config
	logger *zap.Logger
	id     uuid.UUID

	scheduler *scheduler.Scheduler
	sleeps    *timerset.Service
	idles     *timerset.Service
	timeouts  *timerset.Service
	poller    iopoll.Poller
	channel   *async.Channel
	execLimit *semaphore.Weighted

	startTime    time.Time
	now          atomic.Uint64
	lastActivity atomic.Uint64
	terminated   atomic.Bool
	refs         atomic.Int64

	mu      sync.Mutex
	waiters []waiter

	fdWaiters map[int]*FDWaiter
}

// FDWaiter tracks a task parked on an fd's readiness, registered via
// TrackFD, so cleanup can force it awake on loop termination even when no
// timer is racing against it. Terminated distinguishes that forced wake
// from a real poller event once the caller's Sleep returns.
type FDWaiter struct {
	task       *scheduler.Task
	woken      bool
	Terminated bool
}

// Rearm clears a consumed wake so the same FDWaiter can be reused across
// repeated waits on one fd within a single blocking call (e.g. the
// read/write retry loop around EAGAIN).
func (w *FDWaiter) Rearm() {
	w.woken = false
	w.Terminated = false
}

// TrackFD registers task as waiting on fd's readiness. It must be paired
// with UntrackFD once the wait ends, whether by success, error, or
// timeout. Poller callbacks attached against fd should resolve the wake
// through WakeFD or WakeFDByFD rather than calling Scheduler().Wakeup
// directly, so a real event can't double-wake a task cleanup already
// woke, and vice versa.
func (l *Loop) TrackFD(fd int, task *scheduler.Task) *FDWaiter {
	if l.fdWaiters == nil {
		l.fdWaiters = make(map[int]*FDWaiter)
	}
	w := &FDWaiter{task: task}
	l.fdWaiters[fd] = w
	return w
}

// UntrackFD stops tracking fd. Safe to call even if fd was never tracked.
func (l *Loop) UntrackFD(fd int) {
	delete(l.fdWaiters, fd)
}

// WakeFD hands the baton to w's task at most once; a second call (a real
// event firing after a timeout or termination already woke the task, or
// vice versa) is a no-op.
func (l *Loop) WakeFD(w *FDWaiter, terminated bool) {
	if w == nil || w.woken {
		return
	}
	w.woken = true
	w.Terminated = terminated
	l.scheduler.Wakeup(w.task)
}

// WakeFDByFD wakes whatever FDWaiter is currently tracked for fd, if any.
// A poller callback is attached once per fd and reused across many
// TrackFD/UntrackFD cycles, since Modify only rearms the interest set and
// never replaces the stored callback; the callback must therefore resolve
// the current waiter by fd rather than close over whichever one was live
// when Attach first ran.
func (l *Loop) WakeFDByFD(fd int, terminated bool) {
	l.WakeFD(l.fdWaiters[fd], terminated)
}

// New constructs a Loop but does not start it; call Run (typically from a
// dedicated goroutine, see Start) to pump it.
func New(cfg config.Config, logger *zap.Logger) (*Loop, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{cfg: cfg, logger: logger, id: uuid.New(), startTime: time.Now()}
	l.scheduler = scheduler.New()

	nowFn := l.nowMS
	l.sleeps = timerset.New(timerset.Sleep, nowFn)
	l.idles = timerset.New(timerset.Idle, nowFn)
	l.timeouts = timerset.New(timerset.Timeout, nowFn)

	if cfg.ExecConcurrency > 0 {
		l.execLimit = semaphore.NewWeighted(int64(cfg.ExecConcurrency))
	}

	poller, err := iopoll.New(l.onWake)
	if err != nil {
		return nil, errs.FromOS("loop.new", err)
	}
	l.poller = poller
	l.channel = async.New(poller.PostWake)

	return l, nil
}

// Start creates a Loop and runs it on a newly spawned, OS-thread-locked
// goroutine, mirroring the source's one-pthread-per-loop model.
func Start(cfg config.Config, logger *zap.Logger) (*Loop, error) {
	l, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		_ = l.Run(context.Background())
	}()
	return l, nil
}

// ID uniquely identifies this loop for log correlation.
func (l *Loop) ID() uuid.UUID { return l.id }

func (l *Loop) nowMS() uint64 {
	return uint64(time.Since(l.startTime).Milliseconds())
}

// Now returns the loop's own clock, monotonic-anchored to when it was
// constructed (mirrors api_time_current's role as the loop's time source).
func (l *Loop) Now() time.Time {
	return l.startTime.Add(time.Duration(l.now.Load()) * time.Millisecond)
}

func (l *Loop) onWake() {
	n := l.channel.Drain(l.cfg.TickBudget)
	if n >= l.cfg.TickBudget {
		l.logger.Warn("async channel drain hit its per-wake budget", zap.Int("budget", l.cfg.TickBudget))
	}
}

// Ref increments the loop's reference count (a stream or listener attach).
func (l *Loop) Ref() int64 { return l.refs.Add(1) }

// Unref decrements the loop's reference count (a stream or listener
// close).
func (l *Loop) Unref() int64 { return l.refs.Add(-1) }

// Scheduler exposes the loop's task scheduler to packages that build
// higher-level operations atop it (stream, tcp).
func (l *Loop) Scheduler() *scheduler.Scheduler { return l.scheduler }

// Poller exposes the loop's demultiplexer so stream/tcp can attach fds.
func (l *Loop) Poller() iopoll.Poller { return l.poller }

// Logger returns the loop's structured logger.
func (l *Loop) Logger() *zap.Logger { return l.logger }

// ExecLimit exposes the loop's bounded-concurrency semaphore for
// Promisify-style blocking work dispatched from within the loop.
func (l *Loop) ExecLimit() *semaphore.Weighted { return l.execLimit }

func (l *Loop) calculateTimeout() int {
	best := -1
	now := l.now.Load()

	if value, issued, ok := l.sleeps.Nearest(); ok {
		best = minNonNegative(best, remaining(int64(issued)+int64(value)-int64(now)))
	}

	lastActivity := l.lastActivity.Load()
	elapsed := int64(now) - int64(lastActivity)

	if value, _, ok := l.idles.Nearest(); ok {
		best = minNonNegative(best, remaining(int64(value)-elapsed))
	}
	if value, _, ok := l.timeouts.Nearest(); ok {
		best = minNonNegative(best, remaining(int64(value)-elapsed))
	}

	cap := l.cfg.PollTimeoutMS
	if cap <= 0 {
		cap = config.Default().PollTimeoutMS
	}
	if best == -1 || best > cap {
		// Bounding every wait, even an otherwise-infinite one, guarantees
		// Stop/ctx cancellation from another goroutine is noticed in
		// bounded time regardless of how the platform poller behaves when
		// closed out from under a blocked Wait.
		return cap
	}
	return best
}

func remaining(d int64) int {
	if d < 0 {
		return 0
	}
	return int(d)
}

func minNonNegative(a, b int) int {
	if a == -1 {
		return b
	}
	if b < a {
		return b
	}
	return a
}

// Run pumps the loop's main iteration until Stop is called, the poller is
// closed, or ctx is done. It blocks until the loop has fully drained and
// woken every waiter.
func (l *Loop) Run(ctx context.Context) error {
	l.Ref()
	defer l.Unref()

	stopOnCtxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-stopOnCtxDone:
		}
	}()
	defer close(stopOnCtxDone)

	l.now.Store(l.nowMS())
	l.lastActivity.Store(l.now.Load())

	for !l.terminated.Load() {
		now := l.nowMS()
		if l.sleeps.Process(now) > 0 {
			now = l.nowMS()
			l.lastActivity.Store(now)
		}

		n, err := l.poller.Wait(l.calculateTimeout())
		now = l.nowMS()
		l.now.Store(now)

		if err != nil {
			if errors.Is(err, iopoll.ErrPollerClosed) {
				break
			}
			l.logger.Warn("poller wait error", zap.Error(err))
			continue
		}

		if n > 0 {
			l.lastActivity.Store(now)
		} else if l.idles.Process(now-l.lastActivity.Load()) > 0 {
			now = l.nowMS()
			l.now.Store(now)
			l.lastActivity.Store(now)
		}

		l.timeouts.Process(now - l.lastActivity.Load())
	}

	l.terminated.Store(true)
	l.cleanup()
	return nil
}

func (l *Loop) cleanup() {
	l.idles.Terminate()
	l.sleeps.Terminate()
	l.timeouts.Terminate()
	l.channel.Close()

	fdWaiters := l.fdWaiters
	l.fdWaiters = nil
	for _, w := range fdWaiters {
		l.WakeFD(w, true)
	}

	l.mu.Lock()
	waiters := l.waiters
	l.waiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		w := w
		if err := w.loop.channel.Submit(func() { w.loop.scheduler.Wakeup(w.task) }); err != nil {
			l.logger.Warn("could not wake waiting loop on terminate", zap.Error(err))
		}
	}
}

// Stop requests the loop to terminate; Run returns once the current
// iteration finishes draining. Safe to call from any goroutine.
func (l *Loop) Stop() error {
	l.terminated.Store(true)
	return l.poller.Close()
}

func (l *Loop) registerWaiter(current *Loop) *scheduler.Task {
	task := current.scheduler.Current()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated.Load() {
		return nil
	}
	l.waiters = append(l.waiters, waiter{loop: current, task: task})
	return task
}

// Wait suspends current's calling task until l terminates.
func (l *Loop) Wait(ctx context.Context, current *Loop) error {
	task := l.registerWaiter(current)
	if task == nil {
		return nil
	}
	current.scheduler.Sleep(task)
	return nil
}

// StopAndWait registers current as a waiter on l, requests l to stop, and
// suspends current's calling task until l has finished terminating.
// current must not be l itself.
func (l *Loop) StopAndWait(ctx context.Context, current *Loop) error {
	if current == l {
		return errs.New("loop.stop_and_wait", errs.InvalidArgument)
	}
	task := l.registerWaiter(current)
	if err := l.Stop(); err != nil {
		return errs.FromOS("loop.stop_and_wait", err)
	}
	if task != nil {
		current.scheduler.Sleep(task)
	}
	return nil
}

// AsyncWakeup resumes a sleeping task by routing the actual scheduler
// Wakeup call through l's async channel, so it always executes from l's
// own goroutine even when called from another task already running on l
// (e.g. stream.Transfer's dedicated reader task waking its writer).
// Calling scheduler.Wakeup directly from a non-main task would hand the
// baton back asymmetrically, since Sleep always parks its caller waiting
// to be resumed from l's own goroutine context. Grounded on
// original_source/src/api/src/api_stream_common.c's use of
// api_async_wakeup (not a direct api_task_wakeup) from api_transfer_reader.
func (l *Loop) AsyncWakeup(task *scheduler.Task) error {
	return l.channel.Submit(func() { l.scheduler.Wakeup(task) })
}

// Post schedules fn to run as a new, detached task on l's own goroutine.
// Safe to call from any goroutine, including another loop's.
func (l *Loop) Post(fn func(*scheduler.Task), stackSize int) error {
	return l.channel.Submit(func() {
		t := l.scheduler.Create(fn, stackSize)
		l.scheduler.Post(t)
	})
}

// Exec runs fn to completion on l's own goroutine and returns its result,
// suspending current's calling task until fn finishes. current must not
// be l itself.
func (l *Loop) Exec(ctx context.Context, current *Loop, fn func(*scheduler.Task) (any, error), stackSize int) (any, error) {
	if current == l {
		return nil, errs.New("loop.exec", errs.InvalidArgument)
	}

	waitingTask := current.scheduler.Current()
	var result any
	var rerr error

	err := l.channel.Submit(func() {
		t := l.scheduler.Create(func(tk *scheduler.Task) {
			result, rerr = fn(tk)
		}, stackSize)
		l.scheduler.Exec(t)
		l.scheduler.Delete(t)

		if subErr := current.channel.Submit(func() { current.scheduler.Wakeup(waitingTask) }); subErr != nil {
			l.logger.Warn("could not wake exec caller; its loop is gone", zap.Error(subErr))
		}
	})
	if err != nil {
		return nil, err
	}

	current.scheduler.Sleep(waitingTask)
	return result, rerr
}

// Call runs fn to completion on the caller's own goroutine (which must be
// l's own loop thread), synchronously, the same way a direct in-loop
// function call would, but through the scheduler so fn may itself yield,
// sleep, or spawn further tasks.
func (l *Loop) Call(fn func(*scheduler.Task) any, stackSize int) any {
	t := l.scheduler.Create(func(tk *scheduler.Task) { tk.Data = fn(tk) }, stackSize)
	l.scheduler.Exec(t)
	result := t.Data
	l.scheduler.Delete(t)
	return result
}

// Sleep suspends task for period milliseconds, or until Terminate fires
// the sleep service early (e.g. the loop is stopping), in which case it
// returns errs.ErrTerminate.
func (l *Loop) Sleep(task *scheduler.Task, period uint64) error {
	if period == 0 {
		return nil
	}
	timer := &timerset.Timer{}
	timer.Wake = func() { l.scheduler.Wakeup(task) }
	l.sleeps.Set(timer, period)
	l.scheduler.Sleep(task)
	if timer.Elapsed {
		return nil
	}
	return errs.New("loop.sleep", errs.Terminate)
}

// Idle suspends task until `period` milliseconds of loop inactivity have
// elapsed, or until Terminate fires early.
func (l *Loop) Idle(task *scheduler.Task, period uint64) error {
	if period == 0 {
		return nil
	}
	timer := &timerset.Timer{}
	timer.Wake = func() { l.scheduler.Wakeup(task) }
	l.idles.Set(timer, period)
	l.scheduler.Sleep(task)
	if timer.Elapsed {
		return nil
	}
	return errs.New("loop.idle", errs.Terminate)
}

// NewTimeout registers a one-shot timeout timer against the loop's
// timeout service (it is removed when it fires); used by stream I/O to
// enforce read/write deadlines
// without suspending a task (the caller supplies its own wake callback,
// typically one that marks the stream's operation as timed out).
func (l *Loop) NewTimeout(period uint64, onElapsed func()) *timerset.Timer {
	if period == 0 {
		return nil
	}
	timer := &timerset.Timer{Wake: onElapsed}
	l.timeouts.Set(timer, period)
	return timer
}

// CancelTimeout detaches timer from the timeout service without firing
// it.
func (l *Loop) CancelTimeout(timer *timerset.Timer) {
	if timer == nil {
		return
	}
	l.timeouts.Set(timer, 0)
}

// Terminated reports whether the loop has stopped.
func (l *Loop) Terminated() bool { return l.terminated.Load() }
