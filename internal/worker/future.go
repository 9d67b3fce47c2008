package worker

import (
	"context"
	"sync"
)

// Future is the completion handle of one enqueued job.
// It resolves exactly once, with a nil error on success.
type Future struct {
	done chan struct{}
	once sync.Once

	mu        sync.Mutex
	err       error
	callbacks []func(error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns a future that is already resolved with err.
func Failed(err error) *Future {
	f := newFuture()
	f.resolve(err)
	return f
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		cbs := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()
		for _, cb := range cbs {
			cb(err)
		}
	})
}

// Done is closed once the job has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsCompleted reports whether the job has finished, without blocking.
func (f *Future) IsCompleted() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the job's error. Only meaningful after Done is closed.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the job finishes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers fn to run once the job finishes. If the future has
// already resolved, fn runs immediately on the calling goroutine; otherwise
// it runs on the worker goroutine that finished the job.
func (f *Future) OnComplete(fn func(error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		err := f.err
		f.mu.Unlock()
		fn(err)
		return
	default:
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}
