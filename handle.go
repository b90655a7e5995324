package shardio

// Handle is the spawner's reference to a task's output slot and
// completion signal. Dropping interest (Detach) does not stop the
// task; detached tasks run to completion unless cancelled. The output
// slot stays alive until the result is consumed or detached.
type Handle struct {
	task     *Task
	consumed bool
}

// Done reports whether the task has reached a terminal state
// (Completed or Cancelled).
func (h *Handle) Done() bool {
	return h.task.state.terminal()
}

// Cancel requests cancellation of the task. The task will not be
// polled again; its computation is torn down at the next safe point
// (immediately unless it is mid-poll) and the handle resolves with
// ErrCancelled. Cancelling a task that already completed is a no-op:
// its output remains readable. Cancel is idempotent.
func (h *Handle) Cancel() {
	h.task.cancel()
}

// Result consumes the task's output. It panics if the task has not
// reached a terminal state, or if the result was already consumed or
// detached. A cancelled task yields ErrCancelled; a panicked task
// yields a *TaskError.
func (h *Handle) Result() (any, error) {
	t := h.task
	if !t.state.terminal() {
		panic("shardio: result of a task that has not finished")
	}
	if h.consumed {
		panic("shardio: task result already consumed")
	}
	h.consumed = true
	out, err := t.out, t.err
	t.release()
	return out, err
}

// Join suspends the calling task until this handle's task reaches a
// terminal state, then consumes and returns its result. The caller
// must be a different task.
func (h *Handle) Join(t *Task) (any, error) {
	if h.task == t {
		panic("shardio: task cannot join itself")
	}
	if !h.task.state.terminal() {
		h.task.addWaiter(t.Waker())
		t.park()
	}
	return h.Result()
}

// Detach releases the handle's interest in the output slot. The task
// keeps running; its output is discarded when it completes. Detach
// after the result was consumed is a no-op.
func (h *Handle) Detach() {
	if h.consumed {
		return
	}
	h.consumed = true
	h.task.release()
}
