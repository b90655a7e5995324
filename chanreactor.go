package shardio

import (
	"time"

	"github.com/eapache/queue"
)

const (
	// ChanReactorWorkers bounds the number of operations a
	// ChanReactor runs concurrently.
	ChanReactorWorkers = 128

	// ChanReactorStaging bounds how many submissions may be staged
	// before Submit reports ErrBackendBusy.
	ChanReactorStaging = 1024
)

// IOHandler performs one operation on behalf of a ChanReactor. It
// runs on a worker goroutine and may block. The returned count and
// error become the operation's completion result.
type IOHandler func(op *Operation) (int, error)

// ChanReactor is a portable completion-queue backend that dispatches
// staged operations to a bounded pool of worker goroutines running an
// IOHandler, and delivers their completions in batches. It serves as
// the reference backend on platforms without RingReactor and as the
// deterministic backend for tests.
//
// Submit and PollCompletions must be called from the executor's
// goroutine; only the workers run concurrently.
type ChanReactor struct {
	handler     IOHandler
	staged      *queue.Queue // *chanOp in submission order
	stagedTok   map[uint64]*chanOp
	done        chan Completion
	sema        chan struct{}
	spill       []Completion // cancelled completions awaiting delivery
	tokens      uint64
	outstanding int
	staging     int
	closed      bool
}

type chanOp struct {
	op        *Operation
	token     uint64
	cancelled bool
}

// NewChanReactor creates a ChanReactor with the default staging and
// worker limits.
func NewChanReactor(handler IOHandler) *ChanReactor {
	return NewChanReactorSized(handler, ChanReactorStaging, ChanReactorWorkers)
}

// NewChanReactorSized creates a ChanReactor with explicit staging and
// worker limits.
func NewChanReactorSized(handler IOHandler, staging, workers int) *ChanReactor {
	return &ChanReactor{
		handler:   handler,
		staged:    queue.New(),
		stagedTok: make(map[uint64]*chanOp),
		done:      make(chan Completion, staging+workers),
		sema:      make(chan struct{}, workers),
		staging:   staging,
	}
}

// Submit stages the operation for dispatch on the next poll.
func (r *ChanReactor) Submit(op *Operation) (uint64, error) {
	if r.closed {
		return 0, ErrReactorClosed
	}
	if r.staged.Length() >= r.staging {
		return 0, ErrBackendBusy
	}
	r.tokens++
	co := &chanOp{op: op, token: r.tokens}
	r.staged.Add(co)
	r.stagedTok[co.token] = co
	return co.token, nil
}

// PollCompletions dispatches staged operations to the worker pool and
// gathers completions, blocking up to timeout for the first one.
func (r *ChanReactor) PollCompletions(timeout time.Duration, out []Completion) (int, error) {
	if r.closed {
		return 0, ErrReactorClosed
	}
	for r.staged.Length() > 0 {
		co := r.staged.Remove().(*chanOp)
		delete(r.stagedTok, co.token)
		if co.cancelled {
			r.spill = append(r.spill, Completion{Token: co.token, Result: -1, Err: ErrCancelled})
			continue
		}
		r.outstanding++
		go r.invoke(co)
	}

	n := 0
	for n < len(out) && len(r.spill) > 0 {
		out[n] = r.spill[0]
		r.spill = r.spill[1:]
		n++
	}
	n += r.gather(out[n:])
	if n > 0 || len(out) == 0 {
		return n, nil
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		expired = tm.C
	}
	select {
	case c := <-r.done:
		out[0] = c
		r.outstanding--
		n = 1
	case <-expired:
		return 0, nil
	}
	return n + r.gather(out[n:]), nil
}

// gather drains whatever completions are immediately available.
func (r *ChanReactor) gather(out []Completion) int {
	n := 0
	for n < len(out) {
		select {
		case c := <-r.done:
			out[n] = c
			r.outstanding--
			n++
		default:
			return n
		}
	}
	return n
}

// CancelOperation cancels a staged operation. An operation already
// handed to a worker completes normally; its completion is delivered
// as usual.
func (r *ChanReactor) CancelOperation(token uint64) error {
	if r.closed {
		return ErrReactorClosed
	}
	if co, ok := r.stagedTok[token]; ok {
		co.cancelled = true
	}
	return nil
}

// Close marks the reactor closed. The executor drains outstanding
// operations before calling Close.
func (r *ChanReactor) Close() error {
	r.closed = true
	return nil
}

func (r *ChanReactor) invoke(co *chanOp) {
	r.sema <- struct{}{}
	defer func() { <-r.sema }()

	var n int
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				n, err = 0, newTaskError(p)
			}
		}()
		n, err = r.handler(co.op)
	}()
	r.done <- Completion{Token: co.token, Result: int32(n), Err: err}
}
