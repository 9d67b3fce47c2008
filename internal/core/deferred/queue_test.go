package deferred

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/worker"
)

func TestDrainRunsInPostOrder(t *testing.T) {
	q := NewQueue()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Post(func() { got = append(got, i) })
	}
	assert.Equal(t, 5, q.Drain())
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	assert.Equal(t, 0, q.Drain())
}

func TestPostDuringDrainWaitsForNextDrain(t *testing.T) {
	q := NewQueue()
	var got []string
	q.Post(func() {
		got = append(got, "first")
		q.Post(func() { got = append(got, "second") })
	})

	require.Equal(t, 1, q.Drain())
	assert.Equal(t, []string{"first"}, got)
	assert.Equal(t, 1, q.Len())

	require.Equal(t, 1, q.Drain())
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestPostFromManyGoroutines(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Post(func() {})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, q.Drain())
}

func TestAwaitDeliversOnDrainingGoroutine(t *testing.T) {
	q := NewQueue()
	w := worker.New("await", zap.NewNop())
	defer w.Close(worker.DefaultJoinTimeout)

	boom := errors.New("boom")
	f := w.Enqueue(func() error { return boom })

	var got error
	called := false
	Await(q, f, func(err error) {
		called = true
		got = err
	})

	deadline := time.Now().Add(2 * time.Second)
	for !called && time.Now().Before(deadline) {
		q.Drain()
		time.Sleep(time.Millisecond)
	}
	require.True(t, called)
	assert.ErrorIs(t, got, boom)
}
