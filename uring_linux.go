//go:build linux

package shardio

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultRingSize is the submission ring size used by NewRingReactor
// when no explicit size is given.
const DefaultRingSize = 256

// Reserved user_data values for the backend's own entries. Operation
// tokens from the slot arena are always above these: their slot index
// occupies the high 32 bits, offset by one.
const (
	timeoutToken uint64 = 0x01
	cancelToken  uint64 = 0x02
)

// RingReactor is the io_uring completion-queue backend. Submissions
// are staged into the mmap'd submission ring; a single io_uring_enter
// flushes the batch and retrieves completions, so the per-operation
// syscall cost amortizes across every concurrent outstanding
// operation.
//
// Each in-flight operation is pinned in a generation-stamped slot
// arena; the slot index travels through the kernel as user_data and
// resolves the completion back to the operation. The slot holds the
// operation (and its buffers) until the CQE is observed, upholding
// the buffer-lifetime contract even when the owning task has been
// cancelled in the meantime.
type RingReactor struct {
	ring    *uring
	ops     *opTable
	cqes    []uringCQE
	ts      unix.Timespec
	pending uint32 // staged entries not yet submitted to the kernel
	closed  bool
}

// NewRing creates a RingReactor with a submission ring of the given
// size. The kernel rounds the size up to a power of two.
func NewRing(entries uint32) (*RingReactor, error) {
	ring, err := newURing(entries)
	if err != nil {
		return nil, err
	}
	return &RingReactor{
		ring: ring,
		ops:  newOpTable(int(ring.sqEntries)),
		cqes: make([]uringCQE, ring.sqEntries*2),
	}, nil
}

// NewRingReactor creates a RingReactor with DefaultRingSize entries.
func NewRingReactor() (*RingReactor, error) {
	return NewRing(DefaultRingSize)
}

// Submit stages the operation into the submission ring. The batch is
// flushed by the next PollCompletions.
func (r *RingReactor) Submit(op *Operation) (uint64, error) {
	if r.closed {
		return 0, ErrReactorClosed
	}
	tok, ok := r.ops.alloc(op)
	if !ok {
		return 0, ErrBackendBusy
	}

	sqe := uringSQE{Fd: int32(op.fd), UserData: tok}
	switch op.code {
	case OpNop:
		sqe.Opcode = uringOpNop
	case OpRead:
		sqe.Opcode = uringOpRead
		sqe.Off = uint64(op.off)
		if len(op.buf) > 0 {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
			sqe.Len = uint32(len(op.buf))
		}
	case OpWrite:
		sqe.Opcode = uringOpWrite
		sqe.Off = uint64(op.off)
		if len(op.buf) > 0 {
			sqe.Addr = uint64(uintptr(unsafe.Pointer(&op.buf[0])))
			sqe.Len = uint32(len(op.buf))
		}
	case OpFsync:
		sqe.Opcode = uringOpFsync
	default:
		r.ops.take(tok)
		return 0, errInvalidOpCode(op.code)
	}

	if !r.ring.tryPush(&sqe) {
		r.ops.take(tok)
		return 0, ErrBackendBusy
	}
	r.pending++
	return tok, nil
}

// PollCompletions flushes staged submissions and waits up to timeout
// for completions. A bounded wait is implemented with an internal
// IORING_OP_TIMEOUT entry that fires on the deadline or on the first
// completion, whichever comes first.
func (r *RingReactor) PollCompletions(timeout time.Duration, out []Completion) (int, error) {
	if r.closed {
		return 0, ErrReactorClosed
	}
	if len(out) == 0 {
		return 0, r.flush()
	}

	// Completions may already be available from a previous flush.
	// Deliver them first; a flush failure will resurface on the next
	// poll.
	if n := r.translate(out); n > 0 {
		_ = r.flush()
		return n, nil
	}

	if timeout == 0 {
		if err := r.flush(); err != nil {
			return 0, err
		}
		return r.translate(out), nil
	}

	if timeout > 0 {
		r.ts = unix.NsecToTimespec(timeout.Nanoseconds())
		sqe := uringSQE{
			Opcode:   uringOpTimeout,
			Fd:       -1,
			Addr:     uint64(uintptr(unsafe.Pointer(&r.ts))),
			Len:      1,
			Off:      1, // also complete on the first posted CQE
			UserData: timeoutToken,
		}
		if !r.ring.tryPush(&sqe) {
			// Ring full of staged work; flush it instead of waiting.
			if err := r.flush(); err != nil {
				return 0, err
			}
			return r.translate(out), nil
		}
		r.pending++
	}

	for {
		submitted, err := r.ring.enter(r.pending, 1, uringEnterGetevents)
		if err == nil {
			r.pending -= min(uint32(submitted), r.pending)
			break
		}
		switch err {
		case unix.EINTR:
			continue
		case unix.EBUSY:
			// Completion ring is full; drain before submitting more.
			if n := r.translate(out); n > 0 {
				return n, nil
			}
			return 0, err
		default:
			return 0, err
		}
	}
	return r.translate(out), nil
}

// flush submits staged entries without waiting for completions.
func (r *RingReactor) flush() error {
	for r.pending > 0 {
		submitted, err := r.ring.enter(r.pending, 0, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		r.pending -= min(uint32(submitted), r.pending)
		if submitted == 0 {
			break
		}
	}
	return nil
}

// translate drains raw CQEs, resolves arena tokens, and releases the
// pinned operations. Internal entries (timeouts, cancel acks) are
// consumed silently.
func (r *RingReactor) translate(out []Completion) int {
	n := 0
	for n < len(out) {
		m := r.ring.reap(r.cqes[:min(len(r.cqes), len(out)-n)])
		if m == 0 {
			break
		}
		for _, cqe := range r.cqes[:m] {
			switch cqe.UserData {
			case timeoutToken, cancelToken:
				continue
			}
			if _, ok := r.ops.take(cqe.UserData); !ok {
				continue
			}
			c := Completion{Token: cqe.UserData, Result: cqe.Res}
			if cqe.Res < 0 {
				c.Err = unix.Errno(-cqe.Res)
			}
			out[n] = c
			n++
		}
	}
	return n
}

// CancelOperation stages an async cancellation for the given token.
// Best effort: if the operation already completed its completion is
// (or was) delivered normally, and the cancel entry's own ack is
// consumed internally.
func (r *RingReactor) CancelOperation(token uint64) error {
	if r.closed {
		return ErrReactorClosed
	}
	if !r.ops.contains(token) {
		return nil
	}
	sqe := uringSQE{
		Opcode:   uringOpAsyncCancel,
		Fd:       -1,
		Addr:     token,
		UserData: cancelToken,
	}
	if !r.ring.tryPush(&sqe) {
		if err := r.flush(); err != nil {
			return err
		}
		if !r.ring.tryPush(&sqe) {
			return ErrBackendBusy
		}
	}
	r.pending++
	return nil
}

// Close tears down the ring. The executor drains in-flight operations
// first; anything still outstanding is abandoned to the kernel.
func (r *RingReactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.ring.close()
	return nil
}

type errInvalidOpCode OpCode

func (e errInvalidOpCode) Error() string {
	return "shardio: invalid opcode " + OpCode(e).String()
}
