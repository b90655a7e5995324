package shardio

// Mutex provides mutual exclusion for tasks. It allows only one task
// to hold the lock at a time, suspending other tasks that attempt to
// acquire the lock until it's released.
type Mutex struct {
	noCopy noCopy
	owner  *Task
	q      waitQueue
}

// Lock acquires the mutex for the given task. If the mutex is already
// locked, the task will be suspended until the mutex is available.
// Ownership is re-checked after every wake: another task may have
// taken the lock between the unlock and this task's next poll.
func (m *Mutex) Lock(t *Task) {
	for m.owner != nil {
		m.q.wait(t)
	}
	m.owner = t
}

// Unlock releases the mutex. If there are tasks waiting to acquire
// the mutex, the first of them will be resumed.
func (m *Mutex) Unlock() {
	m.owner = nil
	m.q.wakeOne()
}

// WaitCount returns the number of tasks waiting to acquire the mutex.
func (m *Mutex) WaitCount() int { return m.q.len() }
