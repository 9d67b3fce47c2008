package worker

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultJoinTimeout bounds how long Close waits for the worker to drain.
const DefaultJoinTimeout = time.Second

var (
	// ErrClosed is reported by futures of jobs enqueued after Close.
	ErrClosed = errors.New("worker closed")
	// ErrJoinTimeout is returned by Close when the queue did not drain in time.
	ErrJoinTimeout = errors.New("worker join timed out")
)

// PanicError wraps a value recovered from a panicking job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Job is one unit of work. A non-nil error fails the job's future; the
// worker keeps processing subsequent jobs.
type Job func() error

type queued struct {
	fn     Job
	future *Future
}

// Worker is a dedicated background goroutine, locked to its own OS thread,
// executing jobs strictly one at a time in submission order.
type Worker struct {
	name string
	log  *zap.Logger

	mu     sync.Mutex
	queue  []queued
	closed bool

	wake   chan struct{}
	exited chan struct{}
}

// New starts a worker. The name shows up in logs and metrics.
func New(name string, log *zap.Logger) *Worker {
	w := &Worker{
		name:   name,
		log:    log.With(zap.String("worker", name)),
		queue:  make([]queued, 0, 8),
		wake:   make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Name() string { return w.name }

// Pending returns the number of jobs waiting to start.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Enqueue appends a job to the FIFO queue and returns its future.
// Never blocks.
func (w *Worker) Enqueue(fn Job) *Future {
	f := newFuture()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		f.resolve(ErrClosed)
		return f
	}
	w.queue = append(w.queue, queued{fn: fn, future: f})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return f
}

// Close stops accepting jobs, lets the already-queued ones finish, and waits
// up to timeout for the goroutine to exit. On timeout it returns
// ErrJoinTimeout and leaves the goroutine to finish on its own.
func (w *Worker) Close(timeout time.Duration) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.exited:
		return nil
	case <-timer.C:
		w.log.Warn("worker did not drain before timeout", zap.Duration("timeout", timeout), zap.Int("pending", w.Pending()))
		return fmt.Errorf("%s: %w", w.name, ErrJoinTimeout)
	}
}

func (w *Worker) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)

	for {
		q, ok := w.next()
		if !ok {
			return
		}
		q.future.resolve(w.run(q.fn))
	}
}

// next blocks until a job is available. It reports false once the worker is
// closed and the queue is empty.
func (w *Worker) next() (queued, bool) {
	for {
		w.mu.Lock()
		if len(w.queue) > 0 {
			q := w.queue[0]
			w.queue[0] = queued{}
			w.queue = w.queue[1:]
			if len(w.queue) == 0 {
				w.queue = w.queue[:0:cap(w.queue)]
			}
			w.mu.Unlock()
			return q, true
		}
		closed := w.closed
		w.mu.Unlock()
		if closed {
			return queued{}, false
		}
		<-w.wake
	}
}

func (w *Worker) run(fn Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
