package shardio

// Semaphore is a counting semaphore for tasks. Acquire suspends the
// calling task when no permit is available; Release hands a permit
// directly to the longest-waiting task, preserving FIFO fairness.
type Semaphore struct {
	noCopy  noCopy
	permits int
	q       waitQueue
}

// NewSemaphore creates a semaphore with n permits.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{permits: n}
}

// Acquire takes a permit, suspending the task until one is available.
func (s *Semaphore) Acquire(t *Task) {
	if s.permits > 0 {
		s.permits--
		return
	}
	s.q.wait(t)
}

// Release returns a permit. If tasks are waiting, the permit
// transfers to the first of them without touching the counter.
func (s *Semaphore) Release() {
	if s.q.wakeOne() {
		return
	}
	s.permits++
}

// WaitCount returns the number of tasks waiting to acquire.
func (s *Semaphore) WaitCount() int { return s.q.len() }
