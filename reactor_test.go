package shardio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memHandler serves reads and writes against an in-memory byte slice,
// ignoring the operation's fd.
func memHandler(data *[]byte) IOHandler {
	return func(op *Operation) (int, error) {
		switch op.Code() {
		case OpNop, OpFsync:
			return 0, nil
		case OpRead:
			if op.Off() >= int64(len(*data)) {
				return 0, nil
			}
			return copy(op.Buf(), (*data)[op.Off():]), nil
		case OpWrite:
			end := op.Off() + int64(len(op.Buf()))
			for int64(len(*data)) < end {
				*data = append(*data, 0)
			}
			return copy((*data)[op.Off():end], op.Buf()), nil
		default:
			return 0, errInvalidHandlerOp
		}
	}
}

var errInvalidHandlerOp = errors.New("unhandled opcode")

func TestChanReactorIO(t *testing.T) {
	r := require.New(t)

	data := []byte("hello, shard")
	reactor := NewChanReactor(memHandler(&data))
	defer reactor.Close()

	resumes := 0
	_, err := New(reactor).Run(context.Background(), func(_ context.Context, task *Task) (any, error) {
		buf := make([]byte, 5)
		h := task.Spawn(func(_ context.Context, c *Task) (any, error) {
			n, err := c.IO(ReadAt(0, buf, 7))
			resumes++
			return n, err
		})
		v, err := h.Join(task)
		r.NoError(err)
		r.Equal(5, v)
		r.Equal(1, resumes)
		r.Equal("shard", string(buf))

		n, err := task.IO(WriteAt(0, []byte("HELLO"), 0))
		r.NoError(err)
		r.Equal(5, n)

		n, err = task.IO(Fsync(0))
		r.NoError(err)
		r.Equal(0, n)
		return nil, nil
	})
	r.NoError(err)
	r.Equal("HELLO, shard", string(data))
}

func TestBackendBusyRetry(t *testing.T) {
	r := require.New(t)

	invoked := 0
	handler := func(_ *Operation) (int, error) {
		invoked++
		return 0, nil
	}
	reactor := NewChanReactorSized(handler, 1, 1)
	defer reactor.Close()

	done := 0
	_, err := New(reactor).Run(context.Background(), func(_ context.Context, task *Task) (any, error) {
		var wg WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()
				n, err := c.IO(Nop())
				r.NoError(err)
				r.Equal(0, n)
				done++
				return nil, nil
			}).Detach()
		}
		wg.Wait(task)
		return nil, nil
	})
	r.NoError(err)
	r.Equal(4, done)
	r.Equal(4, invoked)
}

func TestChanReactorBusySubmit(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactorSized(nopHandler, 1, 1)
	defer reactor.Close()

	_, err := reactor.Submit(Nop())
	r.NoError(err)
	_, err = reactor.Submit(Nop())
	r.ErrorIs(err, ErrBackendBusy)
}

func TestChanReactorCancelStaged(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactor(func(_ *Operation) (int, error) {
		r.Fail("cancelled operation reached the handler")
		return 0, nil
	})
	defer reactor.Close()

	tok, err := reactor.Submit(Nop())
	r.NoError(err)
	r.NoError(reactor.CancelOperation(tok))

	out := make([]Completion, 4)
	n, err := reactor.PollCompletions(0, out)
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(tok, out[0].Token)
	r.ErrorIs(out[0].Err, ErrCancelled)
}

func TestChanReactorTimeout(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactor(nopHandler)
	defer reactor.Close()

	out := make([]Completion, 1)
	start := time.Now()
	n, err := reactor.PollCompletions(10*time.Millisecond, out)
	r.NoError(err)
	r.Zero(n)
	r.GreaterOrEqual(time.Since(start), 10*time.Millisecond)
}

func TestChanReactorPollEmptyBuffer(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactor(nopHandler)
	defer reactor.Close()

	tok, err := reactor.Submit(Nop())
	r.NoError(err)

	// An empty buffer still flushes the staged operation but returns
	// immediately, even with a blocking timeout.
	n, err := reactor.PollCompletions(-1, nil)
	r.NoError(err)
	r.Zero(n)

	out := make([]Completion, 1)
	n, err = reactor.PollCompletions(time.Second, out)
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(tok, out[0].Token)
}

func TestChanReactorClosed(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactor(nopHandler)
	r.NoError(reactor.Close())

	_, err := reactor.Submit(Nop())
	r.ErrorIs(err, ErrReactorClosed)
	_, err = reactor.PollCompletions(0, nil)
	r.ErrorIs(err, ErrReactorClosed)
	r.ErrorIs(reactor.CancelOperation(1), ErrReactorClosed)
}

func TestChanReactorHandlerPanic(t *testing.T) {
	r := require.New(t)

	reactor := NewChanReactor(func(_ *Operation) (int, error) {
		panic("UH OH")
	})
	defer reactor.Close()

	_, err := New(reactor).Run(context.Background(), func(_ context.Context, task *Task) (any, error) {
		_, err := task.IO(Nop())

		var te *TaskError
		r.ErrorAs(err, &te)
		r.Equal("UH OH", te.Value())
		return nil, nil
	})
	r.NoError(err)
}

func TestOpTableTokens(t *testing.T) {
	r := require.New(t)

	tb := newOpTable(2)

	opA, opB := Nop(), Nop()
	tokA, ok := tb.alloc(opA)
	r.True(ok)
	tokB, ok := tb.alloc(opB)
	r.True(ok)
	r.NotEqual(tokA, tokB)

	_, ok = tb.alloc(Nop())
	r.False(ok) // full

	got, ok := tb.take(tokA)
	r.True(ok)
	r.Same(opA, got)

	_, ok = tb.take(tokA)
	r.False(ok) // token consumed

	// The recycled slot carries a new generation; the old token stays
	// dead.
	tokC, ok := tb.alloc(Nop())
	r.True(ok)
	r.NotEqual(tokA, tokC)
	r.False(tb.contains(tokA))
	r.True(tb.contains(tokC))

	_, ok = tb.take(tokB)
	r.True(ok)
	_, ok = tb.take(tokC)
	r.True(ok)
	r.Zero(tb.live)
}

func TestOpCodeString(t *testing.T) {
	r := require.New(t)

	r.Equal("nop", OpNop.String())
	r.Equal("read", OpRead.String())
	r.Equal("write", OpWrite.String())
	r.Equal("fsync", OpFsync.String())
	r.Equal("invalid", OpCode(0xFF).String())
}
