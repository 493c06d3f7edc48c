// Package retrieve implements asynchronous, deduplicated retrieval of values
// by key with completions delivered on a single-consumer loop.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const DefaultMaxSimultaneousRetrievals = 4

var (
	ErrMissingKey     = errors.New("missing key")
	ErrMissingHandler = errors.New("missing handler")
	ErrPanic          = errors.New("panic")
)

// A Status is the outcome of a retrieval.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// A Result is the result of a retrieval. Value is only meaningful when Status
// is StatusSucceeded, and Err is non-nil when Status is StatusFailed.
type Result[K comparable, V any] struct {
	Key    K
	Value  V
	Err    error
	Status Status
}

// A Handler receives the Result of a retrieval. Handlers for accepted
// retrievals are called on the Loop; handlers for rejected retrievals are
// called synchronously by Retrieve.
type Handler[K comparable, V any] func(Result[K, V])

// A DecodeFunc produces the value for a key. It runs on an Executor.
type DecodeFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// A Retriever dispatches at most one decode per key at a time, up to a
// maximum number of simultaneous retrievals.
type Retriever[K comparable, V any] struct {
	decode                    DecodeFunc[K, V]
	executor                  Executor
	loop                      *Loop
	logger                    *zap.Logger
	maxSimultaneousRetrievals int

	mutex    sync.Mutex
	inFlight map[K]struct{}
}

// An Option sets an option on a Retriever.
type Option[K comparable, V any] func(*Retriever[K, V])

// WithMaxSimultaneousRetrievals sets the maximum number of retrievals in
// flight. Values less than one are ignored.
func WithMaxSimultaneousRetrievals[K comparable, V any](maxSimultaneousRetrievals int) Option[K, V] {
	return func(r *Retriever[K, V]) {
		if maxSimultaneousRetrievals > 0 {
			r.maxSimultaneousRetrievals = maxSimultaneousRetrievals
		}
	}
}

// WithLogger sets the logger.
func WithLogger[K comparable, V any](logger *zap.Logger) Option[K, V] {
	return func(r *Retriever[K, V]) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a new Retriever that runs decode on executor and delivers
// completions on loop.
func New[K comparable, V any](decode DecodeFunc[K, V], executor Executor, loop *Loop, options ...Option[K, V]) *Retriever[K, V] {
	r := &Retriever[K, V]{
		decode:                    decode,
		executor:                  executor,
		loop:                      loop,
		logger:                    zap.NewNop(),
		maxSimultaneousRetrievals: DefaultMaxSimultaneousRetrievals,
		inFlight:                  make(map[K]struct{}),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// MaxSimultaneousRetrievals returns the maximum number of retrievals in
// flight.
func (r *Retriever[K, V]) MaxSimultaneousRetrievals() int {
	return r.maxSimultaneousRetrievals
}

// InFlight returns the number of retrievals in flight.
func (r *Retriever[K, V]) InFlight() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.inFlight)
}

// IsInFlight returns whether a retrieval of key is in flight.
func (r *Retriever[K, V]) IsInFlight(key K) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.inFlight[key]
	return ok
}

// Retrieve requests the value for key. If the request is rejected, because
// the maximum number of retrievals is already in flight, because key is
// already in flight, or because the executor is saturated, then handler is
// called with StatusRejected before Retrieve returns. Otherwise handler is
// called on the loop once the decode completes.
//
// ctx is passed to decode with its cancellation removed, so a retrieval
// always runs to completion once dispatched.
func (r *Retriever[K, V]) Retrieve(ctx context.Context, key K, handler Handler[K, V]) error {
	var zero K
	switch {
	case key == zero:
		return ErrMissingKey
	case handler == nil:
		return ErrMissingHandler
	}

	if !r.acquire(key) {
		handler(Result[K, V]{Key: key, Status: StatusRejected})
		return nil
	}

	decodeCtx := context.WithoutCancel(ctx)
	if err := r.executor.Execute(func() {
		value, err := r.safeDecode(decodeCtx, key)
		r.loop.Post(func() {
			r.release(key)
			result := Result[K, V]{
				Key:    key,
				Value:  value,
				Err:    err,
				Status: StatusSucceeded,
			}
			if err != nil {
				result.Status = StatusFailed
				r.logger.Warn("retrieve",
					zap.Any("key", key),
					zap.Error(err),
				)
			}
			handler(result)
		})
	}); err != nil {
		r.release(key)
		r.logger.Debug("execute",
			zap.Any("key", key),
			zap.Error(err),
		)
		handler(Result[K, V]{Key: key, Status: StatusRejected})
	}
	return nil
}

func (r *Retriever[K, V]) acquire(key K) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if len(r.inFlight) >= r.maxSimultaneousRetrievals {
		return false
	}
	if _, ok := r.inFlight[key]; ok {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Retriever[K, V]) release(key K) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.inFlight, key)
}

// safeDecode calls r.decode, converting panics into errors.
func (r *Retriever[K, V]) safeDecode(ctx context.Context, key K) (value V, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero V
			value = zero
			err = fmt.Errorf("%w: %v", ErrPanic, recovered)
		}
	}()
	return r.decode(ctx, key)
}
