package system

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/config"
	"github.com/swarmnav/swarm/internal/core/deferred"
	"github.com/swarmnav/swarm/internal/core/event"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/nav"
	"github.com/swarmnav/swarm/internal/pool"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

// fakeNav returns a two-point path toward end. A non-nil gate blocks every
// query until it is closed.
type fakeNav struct {
	mu      sync.Mutex
	ready   bool
	calls   int
	gate    chan struct{}
	empty   bool
	panicOn bool
}

func (n *fakeNav) FindPath(_ nav.MapID, start, end geom.Vec3, _ bool) []geom.Vec3 {
	n.mu.Lock()
	n.calls++
	gate, empty, boom := n.gate, n.empty, n.panicOn
	n.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if boom {
		panic("navigation backend exploded")
	}
	if empty {
		return nil
	}
	return []geom.Vec3{start.Lerp(end, 0.5), end}
}

func (n *fakeNav) MapReady(nav.MapID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready
}

func (n *fakeNav) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type fakeAvoidance struct {
	velocities map[nav.Handle]geom.Vec3
	positions  map[nav.Handle]geom.Vec3
}

func newFakeAvoidance() *fakeAvoidance {
	return &fakeAvoidance{
		velocities: map[nav.Handle]geom.Vec3{},
		positions:  map[nav.Handle]geom.Vec3{},
	}
}

func (f *fakeAvoidance) Register(nav.AgentParams, geom.Vec3, nav.VelocityFunc) nav.Handle {
	return 0
}
func (f *fakeAvoidance) SetVelocity(h nav.Handle, v geom.Vec3) { f.velocities[h] = v }
func (f *fakeAvoidance) SetPosition(h nav.Handle, p geom.Vec3) { f.positions[h] = p }
func (f *fakeAvoidance) Unregister(nav.Handle)                 {}

type fakeSink struct {
	instances int
	format    geom.TransformFormat
	submits   int
	current   []float32
	previous  []float32
}

func (f *fakeSink) Allocate(n int, format geom.TransformFormat) {
	f.instances, f.format = n, format
}

func (f *fakeSink) SubmitBuffers(current, previous []float32) {
	f.submits++
	f.current, f.previous = current, previous
}

type fixture struct {
	state   *world.State
	player  *world.Player
	queue   *deferred.Queue
	bus     *event.Bus
	pools   *pool.Pools
	workers []*worker.Worker
	log     *zap.Logger
}

func newFixture(t *testing.T, agents, batches, skippedMax int) *fixture {
	t.Helper()
	player := world.NewPlayer(geom.V(0, 0, 40))
	st := world.NewState(agents, batches, skippedMax,
		world.SpawnLayout{PerRow: 10, Spacing: 1},
		player, rand.New(rand.NewSource(42)))
	f := &fixture{
		state:  st,
		player: player,
		queue:  deferred.NewQueue(),
		bus:    event.NewBus(),
		pools:  pool.New(),
		log:    zap.NewNop(),
	}
	for i := 0; i < st.BatchCount(); i++ {
		f.workers = append(f.workers, worker.New(fmt.Sprintf("path-%d", i), f.log))
	}
	t.Cleanup(func() {
		for _, w := range f.workers {
			_ = w.Close(time.Second)
		}
	})
	return f
}

func (f *fixture) newWorker(t *testing.T, name string) *worker.Worker {
	w := worker.New(name, f.log)
	t.Cleanup(func() { _ = w.Close(time.Second) })
	return w
}

// drainUntil applies deferred results on the test goroutine, which plays
// the simulation goroutine, until cond holds.
func drainUntil(t *testing.T, q *deferred.Queue, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		q.Drain()
		time.Sleep(time.Millisecond)
	}
}

// flushEvents delivers everything emitted so far.
func flushEvents(b *event.Bus) {
	b.SwapBuffers()
	b.DispatchAll()
}

func defaultReach() config.ReachabilityConfig {
	return config.Defaults().Reachability
}
