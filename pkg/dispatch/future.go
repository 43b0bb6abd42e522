package dispatch

import (
	"context"
	"sync"

	"github.com/Sternrassler/api-request-core/pkg/transport"
)

// Future is the eventual result of a submitted task. Every caller attached to
// the same Future observes the same value or error.
type Future struct {
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that is already complete.
func Resolved(value any, err error) *Future {
	f := newFuture()
	f.resolve(value, err)
	return f
}

// resolve completes the future; later calls are ignored.
func (f *Future) resolve(value any, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

func (f *Future) completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. A done ctx only
// stops this caller from waiting; the task keeps running for other callers.
// Cancellation yields a CancellationError, an expired deadline a NetworkError.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, transport.ContextError("", "", ctx.Err())
	}
}

// Result returns the value and error, and false if the future is still pending.
func (f *Future) Result() (any, error, bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return nil, nil, false
	}
}
