package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnav/swarm/internal/core/event"
	"github.com/swarmnav/swarm/internal/geom"
)

func TestRenderBuffersStartWithSpawnTransforms(t *testing.T) {
	f := newFixture(t, 3, 1, 5)
	sink := &fakeSink{}
	rs := NewRenderBufferSystem(f.state, f.newWorker(t, "render"), sink, f.pools, f.bus, f.log)
	defer rs.Release()

	assert.Equal(t, 3, sink.instances)
	assert.Equal(t, geom.Transform3D, sink.format)

	next, prev := rs.Buffers()
	require.Len(t, next, 3*geom.FloatsPerTransform)
	assert.Equal(t, next, prev)
	o := f.state.Agents[2].Position()
	assert.Equal(t, o.X, next[2*geom.FloatsPerTransform+3])
	assert.Equal(t, o.Y, next[2*geom.FloatsPerTransform+7])
	assert.Equal(t, o.Z, next[2*geom.FloatsPerTransform+11])
}

func TestRenderBufferRotation(t *testing.T) {
	f := newFixture(t, 2, 1, 5)
	sink := &fakeSink{}
	w := f.newWorker(t, "render")
	rs := NewRenderBufferSystem(f.state, w, sink, f.pools, f.bus, f.log)

	var rotations []uint64
	event.Subscribe(f.bus, func(e event.FrameRotated) { rotations = append(rotations, e.Cycle) })

	rs.Update(0)
	assert.Equal(t, 1, sink.submits)
	assert.Equal(t, uint64(0), rs.Cycles())

	f.state.Agents[0].Transform.Origin = geom.V(7, 8, 9)
	// Wait for the first flatten, then let the next update rotate and
	// snapshot the moved agent.
	require.Eventually(t, func() bool { return rs.inflight.IsCompleted() }, time.Second, time.Millisecond)
	rs.Update(0)
	assert.Equal(t, uint64(1), rs.Cycles())

	require.Eventually(t, func() bool { return rs.inflight.IsCompleted() }, time.Second, time.Millisecond)
	rs.Update(0)
	assert.Equal(t, uint64(2), rs.Cycles())

	next, prev := rs.Buffers()
	assert.Equal(t, float32(7), next[3])
	assert.Equal(t, float32(9), next[11])
	assert.NotEqual(t, float32(7), prev[3], "previous frame predates the move")
	assert.Equal(t, next, sink.current)
	assert.Equal(t, prev, sink.previous)

	flushEvents(f.bus)
	assert.Equal(t, []uint64{1, 2}, rotations)

	require.NoError(t, w.Close(time.Second))
	rs.Release()
	assert.Equal(t, int64(0), f.pools.Outstanding())
}

func TestRenderBufferFailureKeepsBuffers(t *testing.T) {
	f := newFixture(t, 2, 1, 5)
	w := f.newWorker(t, "render")
	require.NoError(t, w.Close(time.Second))
	rs := NewRenderBufferSystem(f.state, w, nil, f.pools, f.bus, f.log)
	defer rs.Release()

	var failed []event.JobFailed
	event.Subscribe(f.bus, func(e event.JobFailed) { failed = append(failed, e) })

	before, _ := rs.Buffers()
	snapshot := append([]float32(nil), before...)
	rs.Update(0)
	rs.Update(0)
	flushEvents(f.bus)

	next, _ := rs.Buffers()
	assert.Equal(t, snapshot, next)
	assert.Equal(t, uint64(0), rs.Cycles())
	require.NotEmpty(t, failed)
	assert.Equal(t, "render", failed[0].Worker)
}

func TestRenderBufferStopsAfterTeardown(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	sink := &fakeSink{}
	w := f.newWorker(t, "render")
	rs := NewRenderBufferSystem(f.state, w, sink, f.pools, f.bus, f.log)
	defer rs.Release()

	f.state.TearDown()
	rs.Update(0)
	assert.Nil(t, rs.inflight)
	assert.Equal(t, 1, sink.submits, "still hands the last complete pair to the sink")
}
