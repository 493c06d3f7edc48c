package retrieve

import (
	"context"
)

// A Loop is a single-consumer queue of actions. Actions may be posted from
// any goroutine but are only ever run by the goroutine that calls Drain or
// Run, so state touched only by actions needs no locking.
type Loop struct {
	actions chan func()
}

// NewLoop returns a new Loop that buffers up to buffer pending actions before
// Post blocks.
func NewLoop(buffer int) *Loop {
	return &Loop{
		actions: make(chan func(), max(buffer, 0)),
	}
}

// Post queues action to be run on the loop.
func (l *Loop) Post(action func()) {
	l.actions <- action
}

// Pending returns the number of queued actions.
func (l *Loop) Pending() int {
	return len(l.actions)
}

// Drain runs every queued action without blocking and returns the number of
// actions run. Actions posted by a running action are run in the same call.
func (l *Loop) Drain() int {
	n := 0
	for {
		select {
		case action := <-l.actions:
			action()
			n++
		default:
			return n
		}
	}
}

// Run runs actions as they are posted until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case action := <-l.actions:
			action()
		}
	}
}
