package shardio

import (
	"container/heap"
	"time"
)

// Timer wakes a task after a deadline. Timers compose with the
// reactor's wait: the executor parks with a timeout no longer than
// the nearest pending deadline.
type Timer struct {
	entry *timerEntry
}

// Stop cancels the timer. It reports whether the timer was stopped
// before firing.
func (tm *Timer) Stop() bool {
	e := tm.entry
	if e == nil || e.index < 0 {
		return false
	}
	heap.Remove(e.q, e.index)
	return true
}

// After registers a waker to be invoked once d has elapsed. The
// returned Timer can stop it. A timer is consumed like an I/O
// operation: the waker fires at most once.
func (e *Executor) After(d time.Duration, w Waker) *Timer {
	entry := &timerEntry{
		q:    &e.timers,
		when: time.Now().Add(d),
		w:    w,
	}
	heap.Push(&e.timers, entry)
	return &Timer{entry: entry}
}

// Sleep suspends the calling task for at least d.
func (t *Task) Sleep(d time.Duration) {
	t.Logf("SLEEP %v", d)
	t.exec.After(d, t.Waker())
	t.park()
}

type timerEntry struct {
	q     *timerQueue
	when  time.Time
	w     Waker
	index int // heap index, -1 once fired or stopped
}

// timerQueue is a deadline min-heap. It is owned by the executor
// goroutine.
type timerQueue struct {
	entries []*timerEntry
}

func (q *timerQueue) Len() int { return len(q.entries) }

func (q *timerQueue) Less(i, j int) bool {
	return q.entries[i].when.Before(q.entries[j].when)
}

func (q *timerQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	q.entries[i].index = i
	q.entries[j].index = j
}

func (q *timerQueue) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(q.entries)
	q.entries = append(q.entries, e)
}

func (q *timerQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	q.entries = old[:n-1]
	return e
}

// next returns the nearest pending deadline.
func (q *timerQueue) next() (time.Time, bool) {
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].when, true
}

// fire wakes every timer whose deadline is at or before now.
func (q *timerQueue) fire(now time.Time) {
	for len(q.entries) > 0 && !q.entries[0].when.After(now) {
		e := heap.Pop(q).(*timerEntry)
		e.w.Wake()
	}
}

func (q *timerQueue) clear() {
	for _, e := range q.entries {
		e.index = -1
	}
	q.entries = nil
}
