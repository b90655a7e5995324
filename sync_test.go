package shardio

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutex(t *testing.T) {
	r := require.New(t)

	n := 0
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var mux Mutex
		critical := 0
		mux.Lock(task)

		var wg WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()

				mux.Lock(c)
				defer mux.Unlock()

				n++
				critical++
				r.Equal(1, critical)
				defer func() { critical-- }()

				_, err := c.IO(Nop())
				return nil, err
			}).Detach()
		}

		task.Yield()
		r.Equal(3, mux.WaitCount())

		mux.Unlock()
		n++
		wg.Wait(task)
		return nil, nil
	})
	r.NoError(err)
	r.Equal(4, n)
}

func TestMutexRelockBeforeWaiter(t *testing.T) {
	r := require.New(t)

	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var mux Mutex
		holders := 0

		mux.Lock(task)
		holders++

		h := task.Spawn(func(_ context.Context, c *Task) (any, error) {
			mux.Lock(c)
			defer mux.Unlock()

			holders++
			r.Equal(1, holders)
			defer func() { holders-- }()
			return nil, nil
		})
		task.Yield() // child queues on the mutex
		r.Equal(1, mux.WaitCount())

		// Release and immediately reacquire without suspending. The
		// woken child must observe the lock is taken again and keep
		// waiting instead of barging into the critical section.
		mux.Unlock()
		holders--
		mux.Lock(task)
		holders++

		task.Yield()
		r.Equal(1, holders)
		r.False(h.Done())

		mux.Unlock()
		holders--
		_, err := h.Join(task)
		r.NoError(err)
		r.Equal(0, holders)
		return nil, nil
	})
	r.NoError(err)
}

func TestWaitGroup(t *testing.T) {
	r := require.New(t)

	expect, n := 100, 0
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var wg WaitGroup

		for i := 0; i < expect-1; i++ {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()
				_, err := c.IO(Nop())
				r.NoError(err)
				n++
				return nil, nil
			}).Detach()
		}

		wg.Wait(task)
		n++
		return nil, nil
	})
	r.NoError(err)
	r.Equal(expect, n)
}

func TestWaitGroupNegative(t *testing.T) {
	r := require.New(t)

	var wg WaitGroup
	r.PanicsWithValue("shardio: negative WaitGroup counter", func() {
		wg.Done()
	})
}

func TestSemaphore(t *testing.T) {
	r := require.New(t)

	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		sem := NewSemaphore(2)
		inside := 0

		var wg WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()

				sem.Acquire(c)
				defer sem.Release()

				inside++
				r.LessOrEqual(inside, 2)
				defer func() { inside-- }()

				_, err := c.IO(Nop())
				return nil, err
			}).Detach()
		}

		wg.Wait(task)
		r.Equal(0, sem.WaitCount())
		return nil, nil
	})
	r.NoError(err)
}

func TestGroup(t *testing.T) {
	r := require.New(t)

	n := 0
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		group := task.Group()
		for i := 0; i < 10; i++ {
			group.Go(func(ctx context.Context) error {
				c := MustTaskFromContext(ctx)
				_, err := c.IO(Nop())
				r.NoError(err)
				n++
				return nil
			})
		}
		r.NoError(group.Wait())
		r.Equal(10, n)
		return nil, nil
	})
	r.NoError(err)
}

func TestGroupError(t *testing.T) {
	r := require.New(t)

	boom := errors.New("UH OH")
	var later error
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		group := task.Group()
		group.Go(func(context.Context) error {
			return boom
		})
		group.Go(func(ctx context.Context) error {
			// Runs after the first member failed; the group context is
			// already cancelled.
			later = ctx.Err()
			return nil
		})
		r.ErrorIs(group.Wait(), boom)
		return nil, nil
	})
	r.NoError(err)
	r.ErrorIs(later, context.Canceled)
}

func TestGroupEmpty(t *testing.T) {
	r := require.New(t)

	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		r.NoError(task.Group().Wait())
		return nil, nil
	})
	r.NoError(err)
}

func TestSingleFlight(t *testing.T) {
	r := require.New(t)

	n := 0
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var wg WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()
				v, err, shared := c.Do("test-key", func() (any, error) {
					defer func() { n++ }()
					return c.IO(Nop())
				})
				r.NotNil(v)
				r.NoError(err)
				r.True(shared)
				return nil, nil
			}).Detach()
		}
		n++
		wg.Wait(task)
		return nil, nil
	})
	r.NoError(err)
	r.Equal(2, n)
}

func TestSingleFlightKeys(t *testing.T) {
	r := require.New(t)

	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		calls := 0
		for _, key := range []string{"a", "b"} {
			v, err, shared := task.Do(key, func() (any, error) {
				calls++
				return key, nil
			})
			r.NoError(err)
			r.False(shared)
			r.Equal(key, v)
		}
		r.Equal(2, calls)
		return nil, nil
	})
	r.NoError(err)
}

func TestSingleFlightSequential(t *testing.T) {
	r := require.New(t)

	// With no overlapping callers each Do runs its own function.
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		for i := 0; i < 3; i++ {
			v, err, shared := task.Do("key", func() (any, error) {
				return strconv.Itoa(i), nil
			})
			r.NoError(err)
			r.False(shared)
			r.Equal(strconv.Itoa(i), v)
		}
		return nil, nil
	})
	r.NoError(err)
}
