package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmnav/swarm/internal/core/event"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

func newPathSystem(f *fixture, n *fakeNav, breakLimit int) *PathUpdateSystem {
	return NewPathUpdateSystem(f.state, n, f.workers, f.pools, f.queue, f.bus, PathOptions{
		Enabled:      true,
		Interval:     time.Second,
		AllowPartial: true,
		BreakLimit:   breakLimit,
	}, f.log)
}

func TestReanchorSkipsWaypointsBehind(t *testing.T) {
	a := world.NewAgent(0, geom.V(0, 0, 0), 5)
	a.Path = []geom.Vec3{geom.V(10, 0, 0)}

	path := []geom.Vec3{
		geom.V(-3, 0, 0),
		geom.V(-2, 0, 1),
		geom.V(-1, 0, -1),
		geom.V(4, 0, 0),
		geom.V(9, 0, 0),
	}
	start := Reanchor(&a, path, 5)

	assert.Equal(t, 3, start)
	for i := 0; i < start; i++ {
		assert.Equal(t, a.Position(), path[i], "skipped waypoint %d", i)
	}
	assert.Equal(t, geom.V(4, 0, 0), path[3])
	assert.Equal(t, geom.V(9, 0, 0), path[4])
}

func TestReanchorFollowsBackwardRoutePastLimit(t *testing.T) {
	a := world.NewAgent(0, geom.V(0, 0, 0), 5)
	a.Path = []geom.Vec3{geom.V(10, 0, 0)}

	path := []geom.Vec3{geom.V(-3, 0, 0), geom.V(-4, 0, 0), geom.V(-5, 0, 0), geom.V(5, 0, 0)}
	start := Reanchor(&a, path, 2)

	assert.Equal(t, 0, start)
	// The first limit+1 points were walked before the route was accepted.
	assert.Equal(t, a.Position(), path[0])
	assert.Equal(t, a.Position(), path[1])
	assert.Equal(t, a.Position(), path[2])
	assert.Equal(t, geom.V(5, 0, 0), path[3])
}

func TestReanchorAllBehindWrapsToStart(t *testing.T) {
	a := world.NewAgent(0, geom.V(0, 0, 0), 5)
	a.Path = []geom.Vec3{geom.V(0, 0, 10)}

	path := []geom.Vec3{geom.V(0, 0, -1), geom.V(0, 0, -2)}
	start := Reanchor(&a, path, 5)

	assert.Equal(t, 0, start)
	assert.Equal(t, []geom.Vec3{a.Position(), a.Position()}, path, "path collapses onto the agent")
}

func TestReanchorWithoutHeading(t *testing.T) {
	a := world.NewAgent(0, geom.V(0, 0, 0), 5)
	path := []geom.Vec3{geom.V(-3, 0, 0), geom.V(5, 0, 0)}
	assert.Equal(t, 0, Reanchor(&a, path, 5))
	assert.Equal(t, geom.V(-3, 0, 0), path[0], "no tracked waypoint: path untouched")
}

func TestRoundRobinDispatchesEveryBatchOnce(t *testing.T) {
	f := newFixture(t, 40, 4, 5)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)

	seen := map[int]int{}
	event.Subscribe(f.bus, func(e event.BatchDispatched) { seen[e.Batch]++ })

	for i := 0; i < 4; i++ {
		require.True(t, ps.Tick())
		b := ps.current
		drainUntil(t, f.queue, func() bool { return !ps.InFlight(b) })
	}
	flushEvents(f.bus)

	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1, 3: 1}, seen)
	assert.Equal(t, int64(0), f.pools.Outstanding())
}

func TestBusyBatchDropsTick(t *testing.T) {
	f := newFixture(t, 10, 1, 5)
	gate := make(chan struct{})
	n := &fakeNav{ready: true, gate: gate}
	ps := newPathSystem(f, n, 5)

	var dispatched, dropped int
	event.Subscribe(f.bus, func(event.BatchDispatched) { dispatched++ })
	event.Subscribe(f.bus, func(event.BatchTickDropped) { dropped++ })

	require.True(t, ps.Tick())
	assert.True(t, ps.InFlight(0))
	assert.False(t, ps.Tick())
	assert.False(t, ps.Tick())
	assert.LessOrEqual(t, f.workers[0].Pending(), 1)

	flushEvents(f.bus)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, 2, dropped)

	close(gate)
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	assert.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	assert.Equal(t, int64(0), f.pools.Outstanding())
}

func TestPathsAppliedWithReanchor(t *testing.T) {
	f := newFixture(t, 3, 1, 5)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)

	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })

	target := f.state.TargetPosition()
	for i := range f.state.Agents {
		a := &f.state.Agents[i]
		require.Len(t, a.Path, 2)
		assert.Equal(t, 0, a.PathIndex)
		assert.Equal(t, target, a.Path[1])
	}
	assert.Equal(t, 3, n.Calls())
}

func TestReuseScenario(t *testing.T) {
	f := newFixture(t, 1, 1, 3)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)
	a := &f.state.Agents[0]

	tick := func() {
		require.True(t, ps.Tick())
		drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	}

	tick()
	require.Equal(t, 1, n.Calls())
	require.NotEmpty(t, a.Path)
	first := &a.Path[0]

	for i := 1; i <= 3; i++ {
		tick()
		assert.Equal(t, 1, n.Calls(), "tick %d should reuse", i)
		assert.Same(t, first, &a.Path[0], "tick %d should keep the same path", i)
		assert.Equal(t, i, a.PathQueriesSkipped)
		assert.LessOrEqual(t, a.PathQueriesSkipped, a.PathQueriesSkippedMax)
	}

	tick()
	assert.Equal(t, 2, n.Calls(), "fourth tick queries")
	assert.Equal(t, 0, a.PathQueriesSkipped)
	assert.NotSame(t, first, &a.Path[0])
}

func TestUnreachableFlipForcesQuery(t *testing.T) {
	f := newFixture(t, 1, 1, 5)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)
	ds := NewDistanceUpdateSystem(f.state, f.newWorker(t, "distance"), f.pools, f.queue, f.bus,
		time.Second, defaultReach(), f.log)
	a := &f.state.Agents[0]

	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	require.True(t, ds.Tick())
	drainUntil(t, f.queue, func() bool { return !ds.InFlight() })
	require.True(t, a.TargetReachable)

	// The target runs off: the cached path now ends far from it.
	f.player.MoveTo(geom.V(60, 0, 60))
	require.True(t, ds.Tick())
	drainUntil(t, f.queue, func() bool { return !ds.InFlight() })
	assert.False(t, a.TargetReachable)

	calls := n.Calls()
	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	assert.Equal(t, calls+1, n.Calls(), "stale path must be re-queried despite skip budget")
	assert.Equal(t, geom.V(60, 0, 60), a.Path[len(a.Path)-1])
}

func TestEmptyPathKeepsCurrentPath(t *testing.T) {
	f := newFixture(t, 1, 1, 1)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)
	a := &f.state.Agents[0]

	var applied event.PathsApplied
	event.Subscribe(f.bus, func(e event.PathsApplied) { applied = e })

	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	before := a.Path

	n.mu.Lock()
	n.empty = true
	n.mu.Unlock()
	a.TargetReachable = false

	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	flushEvents(f.bus)

	assert.Equal(t, before, a.Path)
	assert.Equal(t, 1, applied.Empty)
	assert.Equal(t, 0, applied.Applied)
}

func TestFailedPathJobIsDiscarded(t *testing.T) {
	f := newFixture(t, 2, 1, 5)
	n := &fakeNav{ready: true, panicOn: true}
	ps := newPathSystem(f, n, 5)

	var failures []event.JobFailed
	event.Subscribe(f.bus, func(e event.JobFailed) { failures = append(failures, e) })

	require.True(t, ps.Tick())
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	flushEvents(f.bus)

	require.Len(t, failures, 1)
	var pe *worker.PanicError
	assert.ErrorAs(t, failures[0].Err, &pe)
	assert.Equal(t, "path-0", failures[0].Worker)
	for _, a := range f.state.Agents {
		assert.Empty(t, a.Path)
	}
	assert.Equal(t, int64(0), f.pools.Outstanding())
}

func TestApplyAfterTeardownDropsResults(t *testing.T) {
	f := newFixture(t, 2, 1, 5)
	gate := make(chan struct{})
	n := &fakeNav{ready: true, gate: gate}
	ps := newPathSystem(f, n, 5)

	require.True(t, ps.Tick())
	f.state.TearDown()
	close(gate)
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })

	for _, a := range f.state.Agents {
		assert.Empty(t, a.Path)
	}
	assert.Equal(t, int64(0), f.pools.Outstanding())
}

func TestPathUpdateRespectsIntervalAndToggle(t *testing.T) {
	f := newFixture(t, 4, 2, 5)
	n := &fakeNav{ready: true}
	ps := newPathSystem(f, n, 5)

	var dispatched int
	event.Subscribe(f.bus, func(event.BatchDispatched) { dispatched++ })

	ps.Update(16 * time.Millisecond) // first tick fires immediately
	ps.Update(500 * time.Millisecond)
	ps.Update(499 * time.Millisecond)
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) })
	ps.Update(time.Millisecond) // one second elapsed
	drainUntil(t, f.queue, func() bool { return !ps.InFlight(0) && !ps.InFlight(1) })
	flushEvents(f.bus)
	assert.Equal(t, 2, dispatched)

	ps.opts.Enabled = false
	ps.Update(time.Hour)
	flushEvents(f.bus)
	assert.Equal(t, 2, dispatched)
}
