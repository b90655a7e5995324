package shardio

// taskList is the live-task registry: an intrusive doubly-linked list
// threaded through the prev/next fields of the tasks themselves.
// Insert and remove are O(1) and allocation-free, which matters
// because they sit on the spawn and completion hot paths.
//
// A task is a member from spawn until terminal-state cleanup. It is
// owned exclusively by the executor goroutine and needs no locking.
type taskList struct {
	head *Task
	tail *Task
	size int
}

func (l *taskList) push(t *Task) {
	if t.inList {
		panic("shardio: task already registered")
	}
	t.inList = true
	t.prev = l.tail
	t.next = nil
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	l.size++
}

func (l *taskList) remove(t *Task) {
	if !t.inList {
		return
	}
	t.inList = false
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.prev = nil
	t.next = nil
	l.size--
}
