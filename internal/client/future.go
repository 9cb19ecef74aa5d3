package client

import (
	"context"
	"sync"
)

// Future is the pending result of an asynchronous call.
//
// Thread-safety: safe for concurrent use; any number of goroutines may
// wait on the same future.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error

	mu    sync.Mutex
	conts []func(T, error)
}

// Go runs fn on a new goroutine and returns its future. ctx is passed to
// fn; cancelling it aborts fn cooperatively.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		v, err := fn(ctx)
		f.complete(v, err)
	}()
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.mu.Lock()
	f.value, f.err = v, err
	conts := f.conts
	f.conts = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range conts {
		fn(v, err)
	}
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done. Cancelling
// ctx stops the wait, not the call.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run with the result once it is available. It never
// blocks; fn runs on the completing goroutine, or on a new one when the
// future has already completed.
func (f *Future[T]) Then(fn func(T, error)) *Future[T] {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		go fn(f.value, f.err)
	default:
		f.conts = append(f.conts, fn)
		f.mu.Unlock()
	}
	return f
}
