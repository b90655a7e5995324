package shardio

import (
	"context"
	"errors"
	"fmt"
	"runtime/trace"

	"github.com/webriots/coro"
)

const (
	taskTraceRegionType = "shardio-region"
	taskTraceCategory   = "shardio"
)

// Fn is a task computation. It runs cooperatively on the executor's
// goroutine and may suspend through the methods of its Task. The
// returned value and error become the task's output.
type Fn func(ctx context.Context, task *Task) (any, error)

// Task is a suspendable unit of computation. One Task struct is the
// single allocation for the whole task: state tag, polling routine
// (the coroutine resume function), output slot, reference count, and
// the intrusive links used by the registry. Tasks are created by
// Executor.Spawn and owned by the executor goroutine.
type Task struct {
	exec    *Executor
	ctx     context.Context
	resume  func(struct{}) (struct{}, bool)
	unwind  func()
	suspend func() struct{}

	// output slot
	out any
	err error

	// registry links
	prev   *Task
	next   *Task
	inList bool

	waiters  []Waker
	inflight uint64 // token of the pending reactor op, 0 if none

	gen         uint32
	refs        int8
	state       taskState
	wakePending bool
	cancelReq   bool
	tracked     bool
	finished    bool // coroutine body has returned or panicked
}

func newTask(e *Executor, ctx context.Context, fn Fn) *Task {
	t := &Task{
		exec:  e,
		state: stateCreated,
		refs:  2, // registry + handle
	}
	t.ctx = withTaskContext(ctx, t)

	resume, cancel := coro.New(
		func(yield func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			region := trace.StartRegion(t.ctx, taskTraceRegionType)
			defer region.End()

			_ = yield
			t.suspend = suspend

			out, err := fn(t.ctx, t)
			t.out = out
			t.err = err
			t.finished = true
			return
		},
	)

	t.resume = resume
	t.unwind = cancel
	return t
}

// poll resumes the task's computation until it either suspends again
// or finishes. A panic escaping the computation is caught here, at
// the poll boundary, and reported as the task's failure; it never
// reaches the run loop.
func (t *Task) poll() (done bool, failure error) {
	defer func() {
		if p := recover(); p != nil {
			t.finished = true
			done = true
			failure = newTaskError(p)
		}
	}()
	_, live := t.resume(struct{}{})
	return !live, nil
}

// park suspends the calling task until a Waker captured for the
// current cycle fires. It must only be called from within the task's
// own computation.
func (t *Task) park() {
	t.Log("PARK")
	t.suspend()
}

// IO submits an operation to the executor's reactor and suspends
// until its completion is delivered. It returns the operation's
// result value and error. If the backend reports it is busy, the task
// parks until the next completion drain and retries; the retry is
// invisible to the caller.
//
// The operation's buffers are owned by the backend until the
// completion (or acknowledged cancellation) is observed.
func (t *Task) IO(op *Operation) (int, error) {
	t.Log("IO")
	for {
		tok, err := t.exec.submit(op, t.Waker())
		if err == nil {
			t.inflight = tok
			break
		}
		if !errors.Is(err, ErrBackendBusy) {
			return 0, err
		}
		t.Log("IO BUSY")
		t.exec.backlog.PushBack(t.Waker())
		t.park()
	}
	t.park()
	t.inflight = 0
	return int(op.result), op.err
}

// Spawn creates a new task running fn, inheriting this task's
// context. The new task is enqueued immediately and runs after the
// current task next suspends or completes.
func (t *Task) Spawn(fn Fn) *Handle {
	return t.exec.Spawn(t.ctx, fn)
}

// Go spawns a detached context-only function as a new task. Any
// output is discarded; failures are isolated to the spawned task.
func (t *Task) Go(fn func(context.Context)) {
	t.exec.Go(t.ctx, fn)
}

// Yield reschedules the calling task at the back of the ready queue
// and suspends, letting every other ready task run first.
func (t *Task) Yield() {
	t.Log("YIELD")
	t.Waker().Wake()
	t.park()
}

// Context returns the task's context. It carries the task itself
// (see TaskFromContext) and any values from the spawn context.
func (t *Task) Context() context.Context { return t.ctx }

// Executor returns the executor that owns this task.
func (t *Task) Executor() *Executor { return t.exec }

// Group returns a new Group bound to this task. See Group.
func (t *Task) Group() *Group {
	return newGroup(t)
}

// Do executes fn under single-flight deduplication for key, scoped to
// the task's executor. Concurrent callers with the same key suspend
// until the first caller's result is available and then share it. The
// final return reports whether the result was shared.
func (t *Task) Do(key any, fn func() (any, error)) (any, error, bool) {
	t.Logf("DO %v", key)
	return t.exec.single.do(t, key, fn)
}

// Log emits a trace log event attributed to this task. It is a no-op
// unless runtime tracing is enabled.
func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		trace.Logf(t.ctx, taskTraceCategory, "%p %s %s", t, t.state, msg)
	}
}

// Logf emits a formatted trace log event attributed to this task.
func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		trace.Logf(t.ctx, taskTraceCategory, "%p %s %s", t, t.state, fmt.Sprintf(format, args...))
	}
}

// addWaiter registers a waker to be fired when the task reaches a
// terminal state.
func (t *Task) addWaiter(w Waker) {
	t.waiters = append(t.waiters, w)
}

func (t *Task) retain() {
	t.refs++
}

// release drops one of the two ownership references (registry or
// handle). The allocation's contents are cleared only when both are
// gone.
func (t *Task) release() {
	if t.refs <= 0 {
		panic("shardio: task refcount underflow")
	}
	t.refs--
	if t.refs == 0 {
		t.out = nil
		t.waiters = nil
		if t.tracked {
			t.exec.allocs--
		}
	}
}
