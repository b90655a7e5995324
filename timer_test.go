package shardio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSleepOrdering(t *testing.T) {
	r := require.New(t)

	var order []time.Duration
	start := time.Now()
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var wg WaitGroup
		for _, d := range []time.Duration{
			30 * time.Millisecond,
			10 * time.Millisecond,
			20 * time.Millisecond,
		} {
			wg.Add(1)
			task.Spawn(func(_ context.Context, c *Task) (any, error) {
				defer wg.Done()
				c.Sleep(d)
				order = append(order, d)
				return nil, nil
			}).Detach()
		}
		wg.Wait(task)
		return nil, nil
	})
	r.NoError(err)
	r.GreaterOrEqual(time.Since(start), 30*time.Millisecond)
	r.Equal([]time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
	}, order)
}

func TestTimerStop(t *testing.T) {
	r := require.New(t)

	n := 0
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		var w Waker
		h := task.Spawn(func(_ context.Context, c *Task) (any, error) {
			w = c.Waker()
			c.park()
			n++
			return nil, nil
		})
		task.Yield() // child parks

		tm := task.Executor().After(10*time.Millisecond, w)
		r.True(tm.Stop())
		r.False(tm.Stop()) // already stopped

		task.Sleep(30 * time.Millisecond)
		r.Equal(0, n) // the stopped timer never fired

		w.Wake()
		_, err := h.Join(task)
		r.NoError(err)
		r.Equal(1, n)
		return nil, nil
	})
	r.NoError(err)
}

func TestTimerFires(t *testing.T) {
	r := require.New(t)

	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		tm := task.Executor().After(time.Millisecond, task.Waker())
		task.park()
		r.False(tm.Stop()) // consumed by firing
		return nil, nil
	})
	r.NoError(err)
}

func TestSleepElapsed(t *testing.T) {
	r := require.New(t)

	start := time.Now()
	_, err := run(t, func(_ context.Context, task *Task) (any, error) {
		task.Sleep(15 * time.Millisecond)
		return nil, nil
	})
	r.NoError(err)
	r.GreaterOrEqual(time.Since(start), 15*time.Millisecond)
}
