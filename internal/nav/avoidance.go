package nav

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/core/ecs"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/worker"
)

type body struct {
	position geom.Vec3
	velocity geom.Vec3 // last desired velocity
	pending  bool      // velocity submitted since the last step
}

type stepAgent struct {
	id       Handle
	position geom.Vec3
	velocity geom.Vec3
	params   AgentParams
	cb       VelocityFunc
	pending  bool
}

// LocalAvoidance steers registered agents apart on a dedicated worker.
// Register, SetVelocity, SetPosition, Unregister and Step are called from
// the simulation goroutine; callbacks fire on the solver's worker.
type LocalAvoidance struct {
	log    *zap.Logger
	worker *worker.Worker

	mu        sync.Mutex
	world     *ecs.World
	params    *ecs.Store[AgentParams]
	bodies    *ecs.Store[body]
	callbacks *ecs.Store[VelocityFunc]

	inflight *worker.Future
	snapshot []stepAgent
	index    map[Handle]int
	grid     *CellGrid
	near     []Handle
	cands    []neighbour
}

type neighbour struct {
	at     int
	distSq float32
}

// NewLocalAvoidance starts the solver worker. cellSize should be close to
// the typical neighbour distance.
func NewLocalAvoidance(log *zap.Logger, cellSize float32) *LocalAvoidance {
	w := ecs.NewWorld(256)
	a := &LocalAvoidance{
		log:       log.Named("avoidance"),
		worker:    worker.New("avoidance", log),
		world:     w,
		params:    ecs.NewStore[AgentParams](256),
		bodies:    ecs.NewStore[body](256),
		callbacks: ecs.NewStore[VelocityFunc](256),
		index:     make(map[Handle]int, 256),
		grid:      NewCellGrid(cellSize),
	}
	w.Register(a.params)
	w.Register(a.bodies)
	w.Register(a.callbacks)
	return a
}

func (a *LocalAvoidance) Register(p AgentParams, position geom.Vec3, cb VelocityFunc) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.world.Create()
	a.params.Set(id, &p)
	a.bodies.Set(id, &body{position: position})
	a.callbacks.Set(id, &cb)
	return id
}

func (a *LocalAvoidance) SetVelocity(h Handle, desired geom.Vec3) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bodies.Get(h); ok {
		b.velocity = desired
		b.pending = true
	}
}

func (a *LocalAvoidance) SetPosition(h Handle, position geom.Vec3) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.bodies.Get(h); ok {
		b.position = position
	}
}

// Unregister stops callbacks for h from the next step on.
func (a *LocalAvoidance) Unregister(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.world.MarkForDestruction(h)
}

// Agents returns the number of registered agents.
func (a *LocalAvoidance) Agents() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.world.Len()
}

// Step solves every agent that submitted a velocity since the previous step.
// It returns false when the previous step is still running; the pending
// velocities then wait for the next call.
func (a *LocalAvoidance) Step() bool {
	if a.inflight != nil && !a.inflight.IsCompleted() {
		a.log.Debug("avoidance step still running, deferring pending velocities")
		return false
	}

	a.mu.Lock()
	a.world.Flush()
	snap := a.snapshot[:0]
	pending := 0
	ecs.Each2(a.params, a.bodies, func(id Handle, p *AgentParams, b *body) {
		cb, _ := a.callbacks.Get(id)
		snap = append(snap, stepAgent{
			id:       id,
			position: b.position,
			velocity: b.velocity,
			params:   *p,
			cb:       *cb,
			pending:  b.pending,
		})
		if b.pending {
			pending++
		}
		b.pending = false
	})
	a.snapshot = snap
	a.mu.Unlock()

	if pending == 0 {
		return true
	}
	a.inflight = a.worker.Enqueue(func() error {
		a.solve(snap)
		return nil
	})
	return true
}

// solve runs on the worker. It only touches the snapshot and the grid, both
// reserved to the single in-flight step.
func (a *LocalAvoidance) solve(snap []stepAgent) {
	a.grid.Reset()
	clear(a.index)
	for i := range snap {
		a.grid.Add(snap[i].id, snap[i].position)
		a.index[snap[i].id] = i
	}
	for i := range snap {
		if !snap[i].pending {
			continue
		}
		safe := a.safeVelocity(snap, i)
		snap[i].cb(safe)
	}
}

func (a *LocalAvoidance) safeVelocity(snap []stepAgent, i int) geom.Vec3 {
	self := &snap[i]
	p := &self.params
	v := self.velocity

	a.near = a.grid.Nearby(a.near[:0], self.position, p.NeighborDistance)
	a.cands = a.cands[:0]
	maxDistSq := p.NeighborDistance * p.NeighborDistance
	for _, id := range a.near {
		j, ok := a.index[id]
		if !ok || j == i {
			continue
		}
		d := self.position.DistanceSquaredXZ(snap[j].position)
		if d <= maxDistSq {
			a.cands = append(a.cands, neighbour{at: j, distSq: d})
		}
	}
	if len(a.cands) > p.MaxNeighbors {
		nearestFirst(a.cands)
		a.cands = a.cands[:p.MaxNeighbors]
	}

	var push geom.Vec3
	for _, n := range a.cands {
		other := &snap[n.at]
		push = push.Add(separation(self, other))
	}
	v = v.Add(push)
	v.Y = self.velocity.Y
	return v.ClampLength(p.MaxSpeed)
}

// separation returns the correction self applies to avoid other within the
// time horizon. Velocities and the horizon share the caller's time unit.
func separation(self, other *stepAgent) geom.Vec3 {
	rel := other.position.Sub(self.position)
	rel.Y = 0
	w := self.velocity.Sub(other.velocity)
	w.Y = 0
	radius := self.params.Radius + other.params.Radius
	horizon := self.params.TimeHorizon
	if horizon <= 0 {
		horizon = 1
	}

	var t float32
	if ww := w.LengthSquared(); ww > 1e-9 {
		t = min(max(rel.Dot(w)/ww, 0), horizon)
	}
	gap := rel.Sub(w.Scale(t))
	dist := gap.Length()
	if dist >= radius {
		return geom.Zero
	}

	away := gap.Scale(-1).Normalized()
	if away == geom.Zero {
		// Coincident: sidestep perpendicular to the approach.
		away = geom.Vec3{X: -w.Z, Z: w.X}.Normalized()
		if away == geom.Zero {
			away = geom.Right
		}
	}

	share := float32(0.5)
	if total := self.params.Priority + other.params.Priority; total > 0 {
		share = other.params.Priority / total
	}
	return away.Scale((radius - dist) / max(t, 1) * share)
}

func nearestFirst(c []neighbour) {
	// Insertion sort; neighbour lists are short.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].distSq < c[j-1].distSq; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Close stops the solver worker.
func (a *LocalAvoidance) Close(timeout time.Duration) error {
	return a.worker.Close(timeout)
}
