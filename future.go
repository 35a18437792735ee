package minq

import (
	"context"
	"fmt"

	"github.com/panjf2000/ants/v2"
)

// Future is the pending result of an *Async terminal operation.
type Future[V any] struct {
	done chan struct{}
	val  V
	err  error
}

func newFuture[V any]() *Future[V] {
	return &Future[V]{done: make(chan struct{})}
}

func (f *Future[V]) resolve(v V, err error) {
	f.val, f.err = v, err
	close(f.done)
}

func failedFuture[V any](err error) *Future[V] {
	f := newFuture[V]()
	var zero V
	f.resolve(zero, err)
	return f
}

// Done is closed once the result is available.
func (f *Future[V]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is available or ctx is done. Cancelling ctx
// does not cancel the operation.
func (f *Future[V]) Await(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// runAsync runs fn on pool and resolves the returned future with its result.
func runAsync[V any](pool *ants.Pool, fn func() (V, error)) *Future[V] {
	f := newFuture[V]()
	err := pool.Submit(func() {
		var (
			v   V
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("minq: async operation panicked: %v", r)
			}
			f.resolve(v, err)
		}()
		v, err = fn()
	})
	if err != nil {
		var zero V
		f.resolve(zero, fmt.Errorf("minq: submit async operation: %w", err))
	}
	return f
}
