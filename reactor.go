package shardio

import "time"

// OpCode identifies the kind of I/O an Operation performs.
type OpCode uint8

const (
	// OpNop completes immediately with a zero result. Useful for
	// testing backends and measuring completion latency.
	OpNop OpCode = iota
	// OpRead reads into the operation's buffer at the given offset.
	OpRead
	// OpWrite writes the operation's buffer at the given offset.
	OpWrite
	// OpFsync flushes the file descriptor's data to stable storage.
	OpFsync
)

func (c OpCode) String() string {
	switch c {
	case OpNop:
		return "nop"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFsync:
		return "fsync"
	default:
		return "invalid"
	}
}

// Operation is one I/O request submitted to a Reactor. The backend
// owns the buffer from submission until the operation's completion or
// acknowledged cancellation is observed; the buffer must not be
// reused or resliced by the caller in between.
type Operation struct {
	buf    []byte
	off    int64
	fd     int
	code   OpCode
	waker  Waker
	result int32
	err    error
	done   bool
}

// Nop creates an operation that completes immediately.
func Nop() *Operation {
	return &Operation{code: OpNop, fd: -1}
}

// ReadAt creates a read of len(buf) bytes from fd at offset off.
func ReadAt(fd int, buf []byte, off int64) *Operation {
	return &Operation{code: OpRead, fd: fd, buf: buf, off: off}
}

// WriteAt creates a write of len(buf) bytes to fd at offset off.
func WriteAt(fd int, buf []byte, off int64) *Operation {
	return &Operation{code: OpWrite, fd: fd, buf: buf, off: off}
}

// Fsync creates a flush of fd to stable storage.
func Fsync(fd int) *Operation {
	return &Operation{code: OpFsync, fd: fd}
}

// Code returns the operation's opcode.
func (op *Operation) Code() OpCode { return op.code }

// Fd returns the operation's file descriptor, -1 if none.
func (op *Operation) Fd() int { return op.fd }

// Buf returns the operation's buffer, nil if none.
func (op *Operation) Buf() []byte { return op.buf }

// Off returns the operation's file offset.
func (op *Operation) Off() int64 { return op.off }

// Completion reports one finished operation. Token correlates the
// completion with the submission that produced it.
type Completion struct {
	Token  uint64
	Result int32
	Err    error
}

// Reactor bridges asynchronous I/O completion to task wake-ups.
// Implementations are owned and driven by a single executor
// goroutine; they do not need to be safe for concurrent use.
type Reactor interface {
	// Submit stages an operation without blocking and returns a
	// correlation token. It returns ErrBackendBusy when the
	// submission ring is full; the caller retries after the next
	// drain.
	Submit(op *Operation) (uint64, error)

	// PollCompletions blocks up to timeout (forever if negative) for
	// at least one completion and fills out with as many as are
	// available, returning the count. A timeout yields zero
	// completions and a nil error. An empty out still flushes staged
	// submissions but returns immediately. Implementations must never
	// spin the caller.
	PollCompletions(timeout time.Duration, out []Completion) (int, error)

	// CancelOperation requests cancellation of an in-flight
	// operation. Best effort: the operation may already have
	// completed, in which case its completion is delivered as usual.
	// Either way the operation's completion still arrives through
	// PollCompletions.
	CancelOperation(token uint64) error

	// Close releases backend resources. The executor drains all
	// in-flight operations before closing.
	Close() error
}
