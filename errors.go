package shardio

import (
	"errors"
	"fmt"
)

// ErrBackendBusy is returned by Reactor.Submit when the submission
// ring has no free slots. The operation was not accepted; callers
// should retry after the next batch of completions drains. Tasks
// submitting through Task.IO handle the retry transparently.
var ErrBackendBusy = errors.New("shardio: submission ring full")

// ErrCancelled resolves the handle of a task that was cancelled
// before producing an output, and the result of an I/O operation
// whose cancellation was acknowledged by the backend. It is a
// distinguished outcome, not a failure.
var ErrCancelled = errors.New("shardio: cancelled")

// ErrShutdown resolves handles returned by Spawn after the executor
// has shut down.
var ErrShutdown = errors.New("shardio: executor shut down")

// ErrReactorClosed is returned by reactor methods called after Close.
var ErrReactorClosed = errors.New("shardio: reactor closed")

// TaskError wraps a panic value recovered at the poll boundary. The
// failure is stored in the failing task's output slot and never
// unwinds into the executor's run loop.
type TaskError struct {
	value any
}

func newTaskError(value any) *TaskError {
	return &TaskError{value: value}
}

// Value returns the recovered panic value.
func (e *TaskError) Value() any { return e.value }

func (e *TaskError) Error() string {
	return fmt.Sprintf("shardio: task panicked: %v", e.value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *TaskError) Unwrap() error {
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}
