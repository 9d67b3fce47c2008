package system

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnav/swarm/internal/core/event"
	"github.com/swarmnav/swarm/internal/persist"
)

type fakeStore struct {
	mu      sync.Mutex
	samples []persist.Sample
	fail    error
}

func (f *fakeStore) InsertSamples(_ context.Context, samples []persist.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.samples = append(f.samples, samples...)
	return nil
}

func (f *fakeStore) Stored() []persist.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]persist.Sample(nil), f.samples...)
}

func TestPersistenceSamplesEventCounters(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	store := &fakeStore{}
	ps := NewPersistenceSystem(store, f.newWorker(t, "persist"), f.queue, f.bus, time.Second, f.log)

	event.Emit(f.bus, event.BatchDispatched{Batch: 0})
	event.Emit(f.bus, event.BatchTickDropped{Batch: 0})
	event.Emit(f.bus, event.PathsApplied{Reused: 3, Queried: 2, Empty: 1})
	event.Emit(f.bus, event.DistancesApplied{Unreachable: 4})
	event.Emit(f.bus, event.FrameRotated{Cycle: 1})
	event.Emit(f.bus, event.TickCompleted{Tick: 7})
	flushEvents(f.bus)

	ps.Update(500 * time.Millisecond)
	assert.Empty(t, store.Stored(), "first sample waits a full interval")

	ps.Update(500 * time.Millisecond)
	drainUntil(t, f.queue, func() bool { return ps.Written() == 1 })

	got := store.Stored()
	require.Len(t, got, 1)
	assert.Equal(t, persist.Sample{
		Tick: 7, Dispatched: 1, Dropped: 1, Reused: 3, Queried: 2, Empty: 1,
		Unreachable: 4, Frames: 1,
	}, got[0])

	// Counters restart; the unreachable level carries over.
	ps.Update(time.Second)
	drainUntil(t, f.queue, func() bool { return ps.Written() == 2 })
	assert.Equal(t, persist.Sample{Tick: 7, Unreachable: 4}, store.Stored()[1])
}

func TestPersistenceFailureDoesNotStall(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	store := &fakeStore{fail: errors.New("db down")}
	ps := NewPersistenceSystem(store, f.newWorker(t, "persist"), f.queue, f.bus, time.Second, f.log)

	ps.Update(time.Second)
	drainUntil(t, f.queue, func() bool { return ps.inflight == nil })
	assert.Equal(t, 0, ps.Written())

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	ps.Update(time.Second)
	drainUntil(t, f.queue, func() bool { return ps.Written() == 1 })
}

func TestPersistenceShutdownWritesFinalSample(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	store := &fakeStore{}
	ps := NewPersistenceSystem(store, f.newWorker(t, "persist"), f.queue, f.bus, time.Minute, f.log)

	event.Emit(f.bus, event.BatchDispatched{})
	event.Emit(f.bus, event.TickCompleted{Tick: 3})
	flushEvents(f.bus)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ps.Shutdown(ctx))

	got := store.Stored()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].Tick)
	assert.Equal(t, 1, got[0].Dispatched)
}

func TestCleanupReportsTick(t *testing.T) {
	f := newFixture(t, 5, 1, 5)
	clock := time.Unix(100, 0)
	cs := NewCleanupSystem(f.state, f.bus, func() time.Time { return clock })

	var done []event.TickCompleted
	event.Subscribe(f.bus, func(e event.TickCompleted) { done = append(done, e) })

	cs.Begin()
	clock = clock.Add(4 * time.Millisecond)
	cs.Update(testTick)
	flushEvents(f.bus)

	require.Len(t, done, 1)
	assert.Equal(t, uint64(1), done[0].Tick)
	assert.Equal(t, 5, done[0].Agents)
	assert.InDelta(t, 0.004, done[0].Duration, 1e-9)
	assert.Equal(t, uint64(1), cs.Ticks())
}
