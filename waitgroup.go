package shardio

// WaitGroup is used to wait for a collection of tasks to finish.
// Tasks call Add(1) when they start and Done() when they finish.
// Other tasks can call Wait() to suspend until all have finished.
type WaitGroup struct {
	noCopy noCopy
	n      int
	q      waitQueue
}

// Add adds delta to the WaitGroup counter. If the counter reaches
// zero, every waiting task is resumed. If the counter goes negative,
// Add panics.
func (wg *WaitGroup) Add(delta int) {
	wg.n += delta
	if wg.n < 0 {
		panic("shardio: negative WaitGroup counter")
	}
	if wg.n == 0 {
		wg.q.wakeAll()
	}
}

// Done decrements the WaitGroup counter by one. It's a convenience
// method equivalent to Add(-1).
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait suspends the calling task until the WaitGroup counter is zero.
// If the counter is already zero, it returns immediately.
func (wg *WaitGroup) Wait(t *Task) {
	if wg.n == 0 {
		return
	}
	wg.q.wait(t)
}
