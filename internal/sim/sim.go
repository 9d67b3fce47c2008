// Package sim wires the swarm pipelines into one tickable simulation.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/config"
	"github.com/swarmnav/swarm/internal/core/deferred"
	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/handler"
	"github.com/swarmnav/swarm/internal/nav"
	"github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
	"github.com/swarmnav/swarm/internal/pool"
	"github.com/swarmnav/swarm/internal/system"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

// MaxViewerStride bounds the frame stride a viewer may request.
const MaxViewerStride = 120

// packetsPerTick caps how many packets one viewer gets processed per tick.
const packetsPerTick = 16

// Solver is an avoidance solver the simulation steps once per physics tick.
type Solver interface {
	nav.Avoidance
	system.Stepper
}

// Viewers attaches the render stream to the simulation.
type Viewers struct {
	Server system.SessionSource
	Stream *net.Stream
}

// Deps are the collaborators a simulation runs against. Navigator is
// required; everything else may be nil.
type Deps struct {
	MapID       nav.MapID
	SpawnOrigin geom.Vec3
	TargetStart geom.Vec3

	Navigator nav.Navigator
	Avoidance Solver
	Target    system.TargetSource
	Sink      system.RenderSink // used when Viewers is nil
	Viewers   *Viewers
	Samples   system.SampleWriter
}

// Option tweaks a simulation at construction.
type Option func(*options)

type options struct {
	agentCount  int
	now         func() time.Time
	joinTimeout time.Duration
}

// WithAgentCount replaces simulation.agent_count. Negative values are ignored.
func WithAgentCount(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.agentCount = n
		}
	}
}

// WithJoinTimeout bounds how long Close waits for each worker.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.joinTimeout = d
		}
	}
}

// WithClock replaces the wall clock used for tick timing.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Simulation owns the agent store, the pipelines and their workers. All
// methods must be called from the simulation goroutine.
type Simulation struct {
	cfg   *config.Config
	log   *zap.Logger
	state *world.State
	queue *deferred.Queue
	bus   *event.Bus
	pools *pool.Pools

	runner  *coresys.Runner
	workers []*worker.Worker

	path        *system.PathUpdateSystem
	distance    *system.DistanceUpdateSystem
	movement    *system.MovementSystem
	render      *system.RenderBufferSystem
	renderer    *worker.Worker
	persistence *system.PersistenceSystem
	cleanup     *system.CleanupSystem
	stream      *net.Stream

	avoid       Solver
	handles     []nav.Handle
	joinTimeout time.Duration
	closed      bool
}

// New spawns the swarm and registers every system in tick order.
func New(cfg *config.Config, deps Deps, log *zap.Logger, opts ...Option) (*Simulation, error) {
	if deps.Navigator == nil {
		return nil, errors.New("sim: navigator is required")
	}
	o := options{agentCount: cfg.Simulation.AgentCount, now: time.Now, joinTimeout: worker.DefaultJoinTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	sc := cfg.Simulation
	seed := sc.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	layout := world.SpawnLayout{
		PerRow:      sc.AgentsPerRow,
		Spacing:     sc.AgentSpacing,
		MinDistance: sc.MinDistanceFromCenter,
		HalfHeight:  cfg.Agent.HalfHeight,
		Origin:      deps.SpawnOrigin,
	}
	player := world.NewPlayer(deps.TargetStart)
	state := world.NewState(o.agentCount, sc.MaxBatchCount, cfg.Agent.PathQueriesSkippedMax, layout, player, rng)

	s := &Simulation{
		cfg:    cfg,
		log:    log,
		state:  state,
		queue:  deferred.NewQueue(),
		bus:    event.NewBus(),
		pools:  pool.New(),
		runner: coresys.NewRunner(),

		joinTimeout: o.joinTimeout,
	}
	s.runner.SetClock(o.now)

	pathWorkers := make([]*worker.Worker, state.BatchCount())
	for i := range pathWorkers {
		pathWorkers[i] = s.newWorker(fmt.Sprintf("path-%d", i))
	}

	s.path = system.NewPathUpdateSystem(state, deps.Navigator, pathWorkers, s.pools, s.queue, s.bus,
		system.PathOptions{
			Enabled:      sc.NavigationEnabled,
			Interval:     sc.PathUpdateInterval,
			MapID:        deps.MapID,
			AllowPartial: cfg.Navigation.AllowPartial,
			BreakLimit:   cfg.Agent.PathAdjustmentBreakLimit,
		}, log)
	s.distance = system.NewDistanceUpdateSystem(state, s.newWorker("distance"), s.pools, s.queue, s.bus,
		sc.DistanceUpdateInterval, cfg.Reachability, log)

	moveOpts := system.MovementOptionsFrom(sc, cfg.Agent)
	moveOpts.MapID = deps.MapID
	var avoid nav.Avoidance
	if deps.Avoidance != nil && sc.AvoidanceEnabled && sc.NavigationEnabled {
		s.avoid = deps.Avoidance
		avoid = deps.Avoidance
	}
	s.movement = system.NewMovementSystem(state, deps.Navigator, avoid, s.queue, moveOpts)
	s.registerAvoidance(rng)

	sink := deps.Sink
	var input *system.InputSystem
	if deps.Viewers != nil {
		s.stream = deps.Viewers.Stream
		sink = s.stream
		registry := packet.NewRegistry[*net.Session](log)
		handler.RegisterAll(registry, &handler.Deps{
			Stream:    s.stream,
			MaxStride: MaxViewerStride,
			Log:       log,
		})
		input = system.NewInputSystem(deps.Viewers.Server, registry, s.stream, packetsPerTick, log)
	}
	if sc.RenderThreadsEnabled {
		s.renderer = s.newWorker("render")
		s.render = system.NewRenderBufferSystem(state, s.renderer, sink, s.pools, s.bus, log)
	}
	if deps.Samples != nil {
		s.persistence = system.NewPersistenceSystem(deps.Samples, s.newWorker("persist"), s.queue, s.bus,
			cfg.Database.SampleInterval, log)
	}
	s.cleanup = system.NewCleanupSystem(state, s.bus, o.now)

	// Phase 0 (Input)
	s.runner.Register(system.NewDeferredSystem(s.queue))
	if input != nil {
		s.runner.Register(input)
	}
	// Phase 1 (PreUpdate)
	s.runner.Register(system.NewEventDispatchSystem(s.bus))
	if deps.Target != nil {
		s.runner.Register(system.NewTargetSystem(player, deps.Target))
	}
	// Phase 2 (Schedule)
	s.runner.Register(s.path)
	s.runner.Register(s.distance)
	// Phase 3 (Physics)
	s.runner.Register(s.movement)
	if s.avoid != nil {
		s.runner.Register(system.NewAvoidanceSystem(s.avoid))
	}
	// Phase 4 (Output)
	if s.render != nil {
		s.runner.Register(s.render)
	}
	if s.stream != nil {
		s.runner.Register(system.NewOutputSystem(s.stream))
	}
	// Phase 5 (Persist)
	if s.persistence != nil {
		s.runner.Register(s.persistence)
	}
	// Phase 6 (Cleanup)
	s.runner.Register(s.cleanup)

	log.Info("群體生成完成",
		zap.Int("agents", state.AgentCount()),
		zap.Int("batches", state.BatchCount()),
		zap.Int("avoidance", len(s.handles)),
		zap.Int("systems", s.runner.Len()),
		zap.Int64("seed", seed),
	)
	return s, nil
}

func (s *Simulation) newWorker(name string) *worker.Worker {
	w := worker.New(name, s.log)
	s.workers = append(s.workers, w)
	return w
}

// registerAvoidance hands a random share of agents to the avoidance solver.
func (s *Simulation) registerAvoidance(rng *rand.Rand) {
	if s.avoid == nil {
		return
	}
	a := s.cfg.Agent
	params := nav.AgentParams{
		Radius:           a.Radius,
		MaxNeighbors:     a.MaxNeighbors,
		NeighborDistance: a.NeighborDistance,
		TimeHorizon:      a.TimeHorizon,
		MaxSpeed:         a.MaxSpeed,
		Priority:         1,
	}
	for _, i := range world.SelectAvoidance(s.state.AgentCount(), s.cfg.Simulation.AvoidanceRatio, rng) {
		ag := &s.state.Agents[i]
		ag.AvoidanceEnabled = true
		ag.Handle = s.avoid.Register(params, ag.Position(), s.movement.AvoidanceCallback(i))
		s.handles = append(s.handles, ag.Handle)
	}
}

// Tick advances the simulation by dt.
func (s *Simulation) Tick(dt time.Duration) {
	if s.closed {
		return
	}
	s.cleanup.Begin()
	s.runner.Tick(dt)

	var timed event.PhasesTimed
	for p, d := range s.runner.LastTick() {
		timed.Seconds[p] = d.Seconds()
	}
	event.Emit(s.bus, timed)
}

// Poll runs only the input phase: finished worker results are applied and
// viewer packets handled without advancing simulated time.
func (s *Simulation) Poll() {
	if s.closed {
		return
	}
	s.runner.TickPhase(coresys.PhaseInput, 0)
}

// Drain applies finished worker results without running a full tick.
func (s *Simulation) Drain() int { return s.queue.Drain() }

func (s *Simulation) State() *world.State { return s.state }
func (s *Simulation) Bus() *event.Bus     { return s.bus }
func (s *Simulation) Ticks() uint64       { return s.cleanup.Ticks() }

// RenderBuffers returns the visible render pair, or nil when rendering is off.
func (s *Simulation) RenderBuffers() (current, previous []float32) {
	if s.render == nil {
		return nil, nil
	}
	return s.render.Buffers()
}

// PathInFlight reports whether batch b has an outstanding path job.
func (s *Simulation) PathInFlight(b int) bool { return s.path.InFlight(b) }

// Close tears the simulation down: late results are dropped, avoidance
// agents are unregistered, the last sample is written and every worker is
// joined with a bounded timeout.
func (s *Simulation) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.state.TearDown()

	for _, h := range s.handles {
		s.avoid.Unregister(h)
	}
	s.handles = nil

	var errs []error
	if s.persistence != nil {
		if err := s.persistence.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final sample: %w", err))
		}
	}
	if s.stream != nil {
		s.stream.CloseAll("simulation shutting down")
	}
	renderJoined := true
	for _, w := range s.workers {
		if err := w.Close(s.joinTimeout); err != nil {
			s.log.Warn("工作執行緒未能及時結束", zap.String("worker", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name(), err))
			if w == s.renderer {
				renderJoined = false
			}
		}
	}
	// Render buffers go back to the pool only once the render worker is gone.
	// A worker that missed its join may still be flattening into one of them.
	if s.render != nil {
		if renderJoined {
			s.render.Release()
		} else {
			s.log.Warn("渲染執行緒仍在執行，保留渲染緩衝")
		}
	}
	s.queue.Drain()

	s.log.Info("模擬已關閉", zap.Uint64("ticks", s.Ticks()))
	return errors.Join(errs...)
}
