package deferred

import (
	"sync"

	"github.com/swarmnav/swarm/internal/worker"
)

// Queue collects calls posted from any goroutine and runs them on the
// simulation goroutine when Drain is called. This is the only path by which
// worker results reach agent state.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	spare   []func()
}

func NewQueue() *Queue {
	return &Queue{
		pending: make([]func(), 0, 64),
		spare:   make([]func(), 0, 64),
	}
}

// Post schedules fn for the next Drain.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

// Len returns the number of calls waiting for the next Drain.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain runs every call posted before it started, in FIFO order, and returns
// how many ran. Calls posted while draining wait for the next Drain.
func (q *Queue) Drain() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i, fn := range batch {
		batch[i] = nil
		fn()
	}

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()
	return len(batch)
}

// Await posts fn(err) onto q once f resolves.
func Await(q *Queue, f *worker.Future, fn func(error)) {
	f.OnComplete(func(err error) {
		q.Post(func() { fn(err) })
	})
}
