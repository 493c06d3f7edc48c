package retrieve

import (
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrRejected is returned when an Executor cannot accept a task.
var ErrRejected = errors.New("rejected")

// An Executor runs tasks asynchronously.
type Executor interface {
	// Execute starts task on another goroutine or returns ErrRejected. It
	// must not block waiting for capacity.
	Execute(task func()) error
}

// An ExecutorFunc is a func that implements Executor.
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Execute(task func()) error {
	return f(task)
}

// A Pool is a bounded Executor. Tasks beyond its size are rejected, never
// queued.
type Pool struct {
	mutex  sync.RWMutex
	group  errgroup.Group
	size   int
	closed bool
}

// NewPool returns a new Pool that runs at most size tasks at once.
func NewPool(size int) *Pool {
	p := &Pool{
		size: max(size, 1),
	}
	p.group.SetLimit(p.size)
	return p
}

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return p.size
}

// Execute implements Executor.
func (p *Pool) Execute(task func()) error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.closed {
		return ErrRejected
	}
	if !p.group.TryGo(func() error {
		task()
		return nil
	}) {
		return ErrRejected
	}
	return nil
}

// Close waits for all running tasks to complete. Subsequent calls to Execute
// are rejected.
func (p *Pool) Close() error {
	p.mutex.Lock()
	p.closed = true
	p.mutex.Unlock()
	return p.group.Wait()
}
