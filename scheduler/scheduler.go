// Package scheduler implements the stackful task abstraction as
// goroutine-backed tasks handing a single baton of control back and forth
// over rendezvous channels. Exactly one task's goroutine is ever runnable
// at a time per Scheduler, which reproduces the single-current-task
// invariant of the original ucontext-based scheduler without unsafe
// register manipulation. Grounded on original_source/src/api/src/api_task.c;
// the channel hand-off replaces api_task_swapcontext.
package scheduler

import "github.com/taskloop/taskloop/pool"

// DefaultStackSize is the accounting default used when a caller passes 0
// for stackSize. Goroutine stacks grow dynamically at runtime, so this
// value is only recorded on the Task; nothing is allocated from it. It is
// kept purely for API fidelity with the original's default allocation.
const DefaultStackSize = 8 * 1024

// Task is a single stackful unit of work. A Task's fn runs on its own
// goroutine; control passes to and from it only through the owning
// Scheduler's swap protocol, so a Task's fields are safe to read/write
// without locking from whichever goroutine currently holds the baton.
type Task struct {
	scheduler *Scheduler
	fn        func(*Task)
	parent    *Task
	isDone    bool
	isPost    bool
	stackSize int
	Data      any

	resume  chan struct{}
	started bool
}

// Scheduler owns exactly one active task at a time and the main (root)
// task representing the owning loop's own goroutine.
type Scheduler struct {
	current *Task
	prev    *Task
	main    *Task
	value   any
	tasks   *pool.Pool[Task]
}

func resetTask(t *Task) {
	t.fn = nil
	t.parent = nil
	t.isDone = false
	t.isPost = false
	t.Data = nil
	t.resume = nil
	t.started = false
}

// New creates a Scheduler. Its Main task represents the caller's own
// goroutine (the event loop thread); it is never executed as a task body.
func New() *Scheduler {
	s := &Scheduler{
		tasks: pool.New(func() *Task { return &Task{} }, resetTask),
	}
	s.main = &Task{resume: make(chan struct{}), started: true}
	s.current = s.main
	return s
}

// Main returns the scheduler's root task.
func (s *Scheduler) Main() *Task { return s.main }

// Current returns the task presently holding the baton.
func (s *Scheduler) Current() *Task { return s.current }

// Value returns the most recent value passed to Yield.
func (s *Scheduler) Value() any { return s.value }

// Create allocates a new Task bound to this scheduler, running fn on its
// own goroutine once first resumed by Exec or Post. stackSize is retained
// only for API fidelity; 0 maps to DefaultStackSize.
func (s *Scheduler) Create(fn func(*Task), stackSize int) *Task {
	if stackSize == 0 {
		stackSize = DefaultStackSize
	}
	t := s.tasks.Get()
	t.scheduler = s
	t.fn = fn
	t.stackSize = stackSize
	t.resume = make(chan struct{})
	return t
}

// Delete returns a task's resources to the pool. A task must never delete
// itself; this mirrors api_task_delete's "don't delete yourself" guard.
func (s *Scheduler) Delete(t *Task) {
	if t == s.current {
		return
	}
	s.tasks.Put(t)
}

func (t *Task) start() {
	if t.started {
		return
	}
	t.started = true
	go func() {
		<-t.resume
		t.fn(t)
		t.isDone = true
		// Final hand-off: wake the parent and exit this goroutine without
		// waiting to be resumed again, since a done task is never resumed.
		t.scheduler.switchTo(t, t.parent, false)
	}()
}

// switchTo transfers the baton from current to other. When waitBack is
// true, the calling goroutine blocks until control is handed back to
// current; this is the Go realization of api_task_swapcontext.
func (s *Scheduler) switchTo(current, other *Task, waitBack bool) {
	s.prev = current
	s.current = other
	other.start()
	other.resume <- struct{}{}
	if !waitBack {
		return
	}
	<-current.resume
	s.current = current
	if s.prev != nil && s.prev.isPost && s.prev.isDone {
		s.Delete(s.prev)
		s.prev = nil
	}
}

// Exec runs task to its first yield/sleep/completion and returns the value
// it yielded (or nil). The main task is not executable.
func (s *Scheduler) Exec(task *Task) any {
	if task.isDone || task == s.main {
		return nil
	}
	task.parent = s.current
	task.isPost = false
	s.value = nil
	s.switchTo(s.current, task, true)
	return s.value
}

// Post schedules task to run with the main task as its parent, detaching
// it from the caller; a posted task that completes is freed automatically
// on the next switch rather than requiring an explicit Delete.
func (s *Scheduler) Post(task *Task) {
	if task.isDone || task == s.main {
		return
	}
	task.parent = s.main
	task.isPost = true
	s.switchTo(s.current, task, true)
}

// Sleep suspends current, handing the baton to the main task, until some
// other task calls Wakeup on it.
func (s *Scheduler) Sleep(current *Task) {
	s.switchTo(current, s.main, true)
}

// Wakeup resumes a previously slept task, handing it the baton.
func (s *Scheduler) Wakeup(task *Task) {
	s.switchTo(s.current, task, true)
}

// Yield records value as the scheduler's current value and, unless
// current is the main task, hands the baton back to current's parent.
func (s *Scheduler) Yield(current *Task, value any) {
	s.value = value
	if current != s.main {
		s.switchTo(current, current.parent, true)
	}
}

// IsDone reports whether a task has finished running its fn.
func (t *Task) IsDone() bool { return t.isDone }
