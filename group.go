package shardio

import "context"

// Group runs a set of spawned tasks and collects the first error that
// occurs. The group's context is cancelled when any member fails, so
// cooperating members can observe the failure and bail out early.
type Group struct {
	task   *Task
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     WaitGroup
	err    error
}

// newGroup creates a group bound to the given task. Members share a
// cancellable child of the task's context.
func newGroup(t *Task) *Group {
	ctx, cancel := context.WithCancelCause(t.Context())
	return &Group{task: t, ctx: ctx, cancel: cancel}
}

// Go spawns fn as a new task in the group. If fn returns an error and
// it is the group's first, the group's context is cancelled with it.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	g.task.exec.Spawn(g.ctx, func(ctx context.Context, _ *Task) (any, error) {
		defer g.wg.Done()
		if err := fn(ctx); err != nil && g.err == nil {
			g.err = err
			g.cancel(err)
		}
		return nil, nil
	}).Detach()
}

// Wait suspends the group's task until every member has finished and
// returns the first error encountered, or nil.
func (g *Group) Wait() error {
	g.wg.Wait(g.task)
	g.cancel(g.err)
	return g.err
}
