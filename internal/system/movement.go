package system

import (
	"time"

	"github.com/swarmnav/swarm/internal/config"
	"github.com/swarmnav/swarm/internal/core/deferred"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/nav"
	"github.com/swarmnav/swarm/internal/world"
)

// MovementOptions are the per-tick integration parameters.
type MovementOptions struct {
	MapID              nav.MapID
	Speed              float32 // units per second
	ArrivalRadiusSq    float32 // advance to the next waypoint inside this
	StopDistanceSq     float32
	SlowDownDistanceSq float32
	MinSpeedMultiplier float32
	VelocitySmoothing  float32
	VelocityDeadZone   float32
}

// MovementOptionsFrom maps the agent config onto movement options.
func MovementOptionsFrom(sim config.SimulationConfig, a config.AgentConfig) MovementOptions {
	return MovementOptions{
		Speed:              sim.Speed,
		ArrivalRadiusSq:    a.PathPointDistanceSq,
		StopDistanceSq:     a.StopDistanceSq,
		SlowDownDistanceSq: a.SlowDownDistanceSq,
		MinSpeedMultiplier: a.MinSpeedMultiplier,
		VelocitySmoothing:  a.VelocitySmoothing,
		VelocityDeadZone:   a.VelocityDeadZone,
	}
}

// MovementSystem steers every agent along its path each physics tick.
// Agents registered with the avoidance solver hand their desired velocity
// to it and move when the safe velocity comes back; the rest move directly.
// Phase 3 (Physics).
type MovementSystem struct {
	state *world.State
	nav   nav.Navigator
	avoid nav.Avoidance
	queue *deferred.Queue
	opts  MovementOptions
}

func NewMovementSystem(state *world.State, navigator nav.Navigator, avoid nav.Avoidance, queue *deferred.Queue, opts MovementOptions) *MovementSystem {
	return &MovementSystem{
		state: state,
		nav:   navigator,
		avoid: avoid,
		queue: queue,
		opts:  opts,
	}
}

func (s *MovementSystem) Phase() coresys.Phase { return coresys.PhasePhysics }

func (s *MovementSystem) Update(dt time.Duration) {
	if !s.nav.MapReady(s.opts.MapID) {
		return
	}
	s.state.MovementDelta = s.opts.Speed * float32(dt.Seconds())
	for i := range s.state.Agents {
		s.integrate(&s.state.Agents[i], i)
	}
}

func (s *MovementSystem) integrate(a *world.Agent, i int) {
	d := a.DistanceToTargetSq
	if d < s.opts.StopDistanceSq {
		a.Velocity = geom.Zero
		if s.avoids(a) {
			s.avoid.SetVelocity(a.Handle, geom.Zero)
		}
		return
	}

	pos := a.Position()
	next := a.Waypoint()
	if len(a.Path) > 0 && pos.DistanceSquaredXZ(next) <= s.opts.ArrivalRadiusSq {
		if a.PathIndex < len(a.Path) {
			a.PathIndex++
		}
		next = a.Waypoint()
	}

	mul := float32(1)
	if d < s.opts.SlowDownDistanceSq {
		mul = max(s.opts.MinSpeedMultiplier, d/s.opts.SlowDownDistanceSq)
	}
	v := pos.DirectionTo(next).Scale(mul * s.state.MovementDelta)
	a.Velocity = v

	if s.avoids(a) {
		s.avoid.SetVelocity(a.Handle, v)
		return
	}
	s.ApplySafeVelocity(i, v)
}

func (s *MovementSystem) avoids(a *world.Agent) bool {
	return a.AvoidanceEnabled && s.avoid != nil && !a.Handle.IsZero()
}

// ApplySafeVelocity smooths v into agent i's velocity and moves the agent.
// Must run on the simulation goroutine; it is a no-op after teardown.
func (s *MovementSystem) ApplySafeVelocity(i int, v geom.Vec3) {
	if s.state.TornDown() || i < 0 || i >= len(s.state.Agents) {
		return
	}
	a := &s.state.Agents[i]
	smoothed := a.PreviousVelocity.Lerp(v, s.opts.VelocitySmoothing)
	a.PreviousVelocity = smoothed
	if smoothed.Length() < s.opts.VelocityDeadZone {
		return
	}

	pos := a.Position()
	pos = pos.MoveToward(pos.Add(smoothed), s.state.MovementDelta)
	a.Transform.Origin = pos
	if s.avoids(a) {
		s.avoid.SetPosition(a.Handle, pos)
	}
}

// AvoidanceCallback returns the solver callback for agent i. Results are
// posted onto the deferred queue and applied on the simulation goroutine.
func (s *MovementSystem) AvoidanceCallback(i int) nav.VelocityFunc {
	return func(safe geom.Vec3) {
		if s.state.TornDown() {
			return
		}
		s.queue.Post(func() { s.ApplySafeVelocity(i, safe) })
	}
}

// Stepper advances an avoidance solver by one physics tick.
type Stepper interface {
	Step() bool
}

// AvoidanceSystem kicks the avoidance solver after movement has submitted
// this tick's velocities. Phase 3 (Physics), registered after MovementSystem.
type AvoidanceSystem struct {
	solver Stepper
}

func NewAvoidanceSystem(solver Stepper) *AvoidanceSystem {
	return &AvoidanceSystem{solver: solver}
}

func (s *AvoidanceSystem) Phase() coresys.Phase { return coresys.PhasePhysics }

func (s *AvoidanceSystem) Update(_ time.Duration) {
	s.solver.Step()
}
