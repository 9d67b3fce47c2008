package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/config"
	"github.com/swarmnav/swarm/internal/core/deferred"
	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/pool"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

type distanceBatch struct {
	positions  []geom.Vec3
	lastPoints []geom.Vec3
	hasPath    []bool
	targetSq   []float32
	playerSq   []float32
	reachable  []bool
}

func (b *distanceBatch) rent(p *pool.Pools, n int) {
	b.positions = p.Vecs.Rent(n)
	b.lastPoints = p.Vecs.Rent(n)
	b.hasPath = p.Bools.Rent(n)
	b.targetSq = p.Floats.Rent(n)
	b.playerSq = p.Floats.Rent(n)
	b.reachable = p.Bools.Rent(n)
}

func (b *distanceBatch) release(p *pool.Pools) {
	p.Vecs.Return(b.positions)
	p.Vecs.Return(b.lastPoints)
	p.Bools.Return(b.hasPath)
	p.Floats.Return(b.targetSq)
	p.Floats.Return(b.playerSq)
	p.Bools.Return(b.reachable)
	*b = distanceBatch{}
}

// Reachable reports whether a path ending at last still serves target. The
// tolerance widens when the agent is far away, where a stale end point
// matters less.
func Reachable(r config.ReachabilityConfig, last, target geom.Vec3, distanceToTargetSq float32) bool {
	mul := r.NearMultiplier
	if distanceToTargetSq > r.FarDistanceSq {
		mul = r.FarMultiplier
	}
	return last.DistanceSquaredTo(target) < r.SafeDistanceFromPathEndSq*mul
}

// DistanceUpdateSystem refreshes every agent's cached target and player
// distances and the path reachability flag. Phase 2 (Schedule).
type DistanceUpdateSystem struct {
	state  *world.State
	worker *worker.Worker
	pools  *pool.Pools
	queue  *deferred.Queue
	bus    *event.Bus
	log    *zap.Logger
	reach  config.ReachabilityConfig
	timer  interval

	inflight *worker.Future
	batch    distanceBatch
}

func NewDistanceUpdateSystem(
	state *world.State,
	w *worker.Worker,
	pools *pool.Pools,
	queue *deferred.Queue,
	bus *event.Bus,
	every time.Duration,
	reach config.ReachabilityConfig,
	log *zap.Logger,
) *DistanceUpdateSystem {
	return &DistanceUpdateSystem{
		state:  state,
		worker: w,
		pools:  pools,
		queue:  queue,
		bus:    bus,
		log:    log,
		reach:  reach,
		timer:  newInterval(every),
	}
}

func (s *DistanceUpdateSystem) Phase() coresys.Phase { return coresys.PhaseSchedule }

func (s *DistanceUpdateSystem) Update(dt time.Duration) {
	if s.timer.Due(dt) {
		s.Tick()
	}
}

// InFlight reports whether a distance job is outstanding.
func (s *DistanceUpdateSystem) InFlight() bool { return s.inflight != nil }

// Tick snapshots all agents and dispatches one distance job, unless the
// previous job is still running.
func (s *DistanceUpdateSystem) Tick() bool {
	if s.inflight != nil {
		s.log.Debug("距離更新仍在處理中，略過本次更新")
		event.Emit(s.bus, event.DistanceTickDropped{})
		return false
	}

	agents := s.state.Agents
	n := len(agents)
	b := &s.batch
	b.rent(s.pools, n)
	for i := range agents {
		a := &agents[i]
		b.positions[i] = a.Position()
		b.lastPoints[i], b.hasPath[i] = a.LastWaypoint()
	}
	target := s.state.TargetPosition()
	player := s.state.PlayerPosition()
	reach := s.reach

	s.inflight = s.worker.Enqueue(func() error {
		for i := 0; i < n; i++ {
			pos := b.positions[i]
			d := pos.DistanceSquaredXZ(target)
			b.targetSq[i] = d
			b.playerSq[i] = pos.DistanceSquaredXZ(player)
			b.reachable[i] = b.hasPath[i] && Reachable(reach, b.lastPoints[i], target, d)
		}
		return nil
	})
	deferred.Await(s.queue, s.inflight, s.apply)
	return true
}

func (s *DistanceUpdateSystem) apply(err error) {
	b := &s.batch
	defer func() {
		b.release(s.pools)
		s.inflight = nil
	}()

	if s.state.TornDown() {
		return
	}
	if err != nil {
		s.log.Error("距離更新工作失敗，保留舊的快取值",
			zap.String("worker", s.worker.Name()),
			zap.Error(err),
		)
		event.Emit(s.bus, event.JobFailed{Worker: s.worker.Name(), Err: err})
		return
	}

	ev := event.DistancesApplied{}
	agents := s.state.Agents
	for i := range agents {
		a := &agents[i]
		a.DistanceToTargetSq = b.targetSq[i]
		a.DistanceToPlayerSq = b.playerSq[i]
		a.TargetReachable = b.reachable[i]
		if a.TargetReachable {
			ev.Reachable++
		} else {
			ev.Unreachable++
		}
	}
	event.Emit(s.bus, ev)
}
