package shardio

import "github.com/gammazero/deque"

// waitQueue parks tasks in FIFO order and wakes them one at a time or
// all at once. It is the building block for the task-scoped
// synchronization primitives.
type waitQueue struct {
	noCopy noCopy
	w      deque.Deque[Waker]
}

// wait suspends the task until a wake hands control back.
func (q *waitQueue) wait(t *Task) {
	q.w.PushBack(t.Waker())
	t.park()
}

// wakeOne wakes the longest-waiting task. Reports whether a waiter
// was woken.
func (q *waitQueue) wakeOne() bool {
	if q.w.Len() == 0 {
		return false
	}
	q.w.PopFront().Wake()
	return true
}

// wakeAll wakes every waiting task, preserving FIFO order.
func (q *waitQueue) wakeAll() {
	for q.w.Len() > 0 {
		q.w.PopFront().Wake()
	}
}

func (q *waitQueue) len() int { return q.w.Len() }
