package shardio

// Waker is the wake channel for one suspension cycle of a task.
// Invoking Wake schedules the task for another poll. A Waker is a
// small value; it may be copied freely and handed to whatever will
// eventually make the task runnable (a pending I/O operation, a
// timer, another task).
//
// Wakes collapse: invoking a Waker any number of times before the
// task's next poll produces exactly one ready-queue entry. A Waker
// captured during an earlier suspension cycle, or whose task has
// reached a terminal state, is inert.
//
// Wake must only be called from the executor's goroutine.
type Waker struct {
	task *Task
	gen  uint32
}

// Wake marks the task runnable, enqueueing it on the executor's ready
// queue unless it is already queued, already terminal, or the waker
// is stale. Waking a task that is currently mid-poll defers the
// enqueue until its poll returns.
func (w Waker) Wake() {
	t := w.task
	if t == nil || w.gen != t.gen || t.state.terminal() {
		return
	}
	switch t.state {
	case stateQueued:
		// Pending wake already collapsed into the existing entry.
	case stateRunning:
		t.wakePending = true
	default:
		t.exec.enqueue(t)
	}
}

// Waker returns the wake channel for the task's current suspension
// cycle. It must be captured before the task suspends; wakers from
// previous cycles are invalidated at the next poll.
func (t *Task) Waker() Waker {
	return Waker{task: t, gen: t.gen}
}
