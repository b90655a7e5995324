package shardio

import (
	"context"
	"errors"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/gammazero/deque"
)

const execTraceTaskType = "shardio-executor"

// Executor is one shard: a single-threaded cooperative run loop. It
// owns the ready queue, the live-task registry, the timer queue, and
// the reactor, and must be driven by exactly one goroutine. Multiple
// executors can coexist in a process; nothing here is a process-wide
// singleton.
type Executor struct {
	reactor  Reactor
	ready    deque.Deque[*Task]
	tasks    taskList
	timers   timerQueue
	inflight map[uint64]*Operation
	backlog  deque.Deque[Waker] // tasks waiting out submission backpressure
	single   *singleFlight
	cqbuf    []Completion
	allocs   int
	fatal    error
	closed   bool
}

// New creates an executor driving the given reactor.
func New(reactor Reactor) *Executor {
	return &Executor{
		reactor:  reactor,
		inflight: make(map[uint64]*Operation),
		single:   newSingleFlight(),
		cqbuf:    make([]Completion, 256),
	}
}

// Spawn allocates a task for fn, registers it in the live-task
// registry, and enqueues it ready. The returned handle resolves when
// the task reaches a terminal state. Spawning on a shut-down executor
// returns a handle already resolved with ErrShutdown.
func (e *Executor) Spawn(ctx context.Context, fn Fn) *Handle {
	if ctx == nil {
		ctx = context.Background()
	}
	t := newTask(e, ctx, fn)
	if e.closed {
		t.state = stateCancelled
		t.err = ErrShutdown
		t.refs = 1
		return &Handle{task: t}
	}
	t.tracked = true
	e.allocs++
	e.tasks.push(t)
	e.enqueue(t)
	t.Log("SPAWN")
	return &Handle{task: t}
}

// Go spawns a detached context-only function. Its output is discarded
// and failures are isolated to the spawned task.
func (e *Executor) Go(ctx context.Context, fn func(context.Context)) {
	e.Spawn(ctx, func(ctx context.Context, _ *Task) (any, error) {
		fn(ctx)
		return nil, nil
	}).Detach()
}

// Run spawns fn as the root task and drives the run loop until the
// root reaches a terminal state, then shuts the executor down so that
// no task outlives it. It returns the root's output.
//
// An unexpected reactor failure is fatal: Run shuts down and returns
// the reactor's error.
func (e *Executor) Run(ctx context.Context, fn Fn) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, tracer := trace.NewTask(ctx, execTraceTaskType)
	defer tracer.End()

	root := e.Spawn(ctx, fn)
	for !root.Done() {
		e.drainReady()
		if root.Done() {
			break
		}
		if err := e.park(); err != nil {
			e.fatal = err
			break
		}
	}
	e.Shutdown()
	if e.fatal != nil {
		root.Detach()
		return nil, e.fatal
	}
	return root.Result()
}

// Shutdown cancels every live task and drains the reactor until no
// operation is outstanding. Handles of cancelled tasks resolve with
// ErrCancelled. Shutdown is idempotent and must be called from
// outside the run loop, never from within a task.
func (e *Executor) Shutdown() {
	if e.closed {
		return
	}
	trace.Log(context.Background(), taskTraceCategory, "SHUTDOWN")
	for t := e.tasks.head; t != nil; {
		next := t.next
		t.cancel()
		t = next
	}
	if e.tasks.size != 0 {
		panic("shardio: live tasks after shutdown cancellation")
	}
	// Outstanding operations still pin their buffers; drain their
	// completions before declaring the reactor quiescent.
	for len(e.inflight) > 0 {
		n, err := e.reactor.PollCompletions(-1, e.cqbuf)
		if err != nil {
			break
		}
		for i := 0; i < n; i++ {
			e.dispatch(e.cqbuf[i])
		}
	}
	e.ready.Clear()
	e.backlog.Clear()
	e.timers.clear()
	e.closed = true
}

// Live returns the number of tasks in the live-task registry.
func (e *Executor) Live() int { return e.tasks.size }

// Allocated returns the number of task allocations with at least one
// outstanding ownership reference. It reaches zero once every task is
// terminal and every handle has been consumed or detached.
func (e *Executor) Allocated() int { return e.allocs }

// enqueue transitions a task to Queued and appends it to the ready
// queue. Callers guarantee the task is not already queued.
func (e *Executor) enqueue(t *Task) {
	t.state = stateQueued
	e.ready.PushBack(t)
}

// drainReady polls queued tasks in FIFO order until the ready queue
// is empty. Entries whose task was cancelled while queued are
// skipped.
func (e *Executor) drainReady() {
	for e.ready.Len() > 0 {
		t := e.ready.PopFront()
		if t.state != stateQueued {
			continue
		}
		e.poll1(t)
	}
}

// poll1 runs one poll of a task and applies the resulting state
// transition.
func (e *Executor) poll1(t *Task) {
	t.state = stateRunning
	t.gen++ // consume the wakers of the previous suspension cycle
	t.Log("POLL")

	done, failure := t.poll()
	switch {
	case done:
		if failure != nil {
			t.out = nil
			t.err = failure
		}
		t.state = stateCompleted
		t.Log("DONE")
		e.finalize(t)
	case t.cancelReq:
		// Cancelled mid-poll; tear down now that the poll returned.
		e.teardown(t)
	case t.wakePending:
		t.wakePending = false
		e.enqueue(t)
	default:
		t.state = stateSuspended
	}
}

// finalize performs terminal-state cleanup: wake joiners, drop the
// registry's ownership reference, deregister.
func (e *Executor) finalize(t *Task) {
	waiters := t.waiters
	t.waiters = nil
	e.tasks.remove(t)
	t.release()
	for _, w := range waiters {
		w.Wake()
	}
}

// teardown cancels a task that is not mid-poll: unwind the
// computation's coroutine (running its defers), resolve the output
// slot with ErrCancelled, request cancellation of any in-flight
// operation, and deregister.
func (e *Executor) teardown(t *Task) {
	t.Log("CANCEL")
	if !t.finished {
		t.unwind()
		t.finished = true
	}
	t.state = stateCancelled
	t.out = nil
	t.err = ErrCancelled
	if tok := t.inflight; tok != 0 {
		t.inflight = 0
		// Best effort; the operation's completion (cancelled or not)
		// still arrives through the reactor and frees its resources.
		_ = e.reactor.CancelOperation(tok)
	}
	e.finalize(t)
}

// cancel requests cancellation. A task that is mid-poll is torn down
// when its poll returns; otherwise teardown happens immediately.
// Cancelling a terminal task is a no-op.
func (t *Task) cancel() {
	switch {
	case t.state.terminal():
	case t.state == stateRunning:
		t.cancelReq = true
	default:
		t.exec.teardown(t)
	}
}

// submit forwards an operation to the reactor and records it as
// in-flight, keyed by the backend's correlation token.
func (e *Executor) submit(op *Operation, w Waker) (uint64, error) {
	op.waker = w
	tok, err := e.reactor.Submit(op)
	if err != nil {
		return 0, err
	}
	e.inflight[tok] = op
	return tok, nil
}

// park blocks on the reactor until at least one completion arrives or
// the nearest timer is due, then dispatches completions, fires due
// timers, and wakes any tasks parked on submission backpressure.
func (e *Executor) park() error {
	timeout := time.Duration(-1)
	if next, ok := e.timers.next(); ok {
		timeout = max(time.Until(next), 0)
	}
	n, err := e.reactor.PollCompletions(timeout, e.cqbuf)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		e.dispatch(e.cqbuf[i])
	}
	e.timers.fire(time.Now())
	if n > 0 {
		for e.backlog.Len() > 0 {
			e.backlog.PopFront().Wake()
		}
	}
	return nil
}

// dispatch routes one completion back to the waiting task. A
// completion for an unknown token (e.g. delivered after the owning
// task was torn down and its entry dropped) is discarded.
func (e *Executor) dispatch(c Completion) {
	op, ok := e.inflight[c.Token]
	if !ok {
		trace.Log(context.Background(), taskTraceCategory, "STRAY COMPLETION")
		return
	}
	delete(e.inflight, c.Token)
	op.result = c.Result
	op.err = c.Err
	if errors.Is(c.Err, syscall.ECANCELED) {
		op.err = ErrCancelled
	}
	op.done = true
	op.waker.Wake()
}
