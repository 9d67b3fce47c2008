package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/core/deferred"
	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/nav"
	"github.com/swarmnav/swarm/internal/pool"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

// pathBatch is the pooled snapshot one batch job works on. Workers read and
// write only these slices, never the agents.
type pathBatch struct {
	positions  []geom.Vec3
	oldPaths   [][]geom.Vec3
	newPaths   [][]geom.Vec3
	skipped    []int
	skippedMax []int
	reachable  []bool
	reused     []bool
}

func (b *pathBatch) rent(p *pool.Pools, n int) {
	b.positions = p.Vecs.Rent(n)
	b.oldPaths = p.Paths.Rent(n)
	b.newPaths = p.Paths.Rent(n)
	b.skipped = p.Ints.Rent(n)
	b.skippedMax = p.Ints.Rent(n)
	b.reachable = p.Bools.Rent(n)
	b.reused = p.Bools.Rent(n)
}

func (b *pathBatch) release(p *pool.Pools) {
	p.Vecs.Return(b.positions)
	p.Paths.Return(b.oldPaths)
	p.Paths.Return(b.newPaths)
	p.Ints.Return(b.skipped)
	p.Ints.Return(b.skippedMax)
	p.Bools.Return(b.reachable)
	p.Bools.Return(b.reused)
	*b = pathBatch{}
}

// PathOptions configures the path pipeline.
type PathOptions struct {
	Enabled      bool
	Interval     time.Duration
	MapID        nav.MapID
	AllowPartial bool
	BreakLimit   int
}

// PathUpdateSystem refreshes agent paths one batch per interval, round-robin.
// Each batch has its own worker and at most one job in flight; a refresh
// tick that lands on a busy batch is dropped. Phase 2 (Schedule).
type PathUpdateSystem struct {
	state   *world.State
	nav     nav.Navigator
	workers []*worker.Worker
	pools   *pool.Pools
	queue   *deferred.Queue
	bus     *event.Bus
	log     *zap.Logger
	opts    PathOptions
	timer   interval

	current int
	pending []*worker.Future
	batches []pathBatch
}

// NewPathUpdateSystem needs one worker per batch in state.
func NewPathUpdateSystem(
	state *world.State,
	navigator nav.Navigator,
	workers []*worker.Worker,
	pools *pool.Pools,
	queue *deferred.Queue,
	bus *event.Bus,
	opts PathOptions,
	log *zap.Logger,
) *PathUpdateSystem {
	n := state.BatchCount()
	if len(workers) != n {
		panic("path pipeline: worker count must equal batch count")
	}
	return &PathUpdateSystem{
		state:   state,
		nav:     navigator,
		workers: workers,
		pools:   pools,
		queue:   queue,
		bus:     bus,
		log:     log,
		opts:    opts,
		timer:   newInterval(opts.Interval),
		current: n - 1,
		pending: make([]*worker.Future, n),
		batches: make([]pathBatch, n),
	}
}

func (s *PathUpdateSystem) Phase() coresys.Phase { return coresys.PhaseSchedule }

func (s *PathUpdateSystem) Update(dt time.Duration) {
	if !s.opts.Enabled {
		return
	}
	if s.timer.Due(dt) {
		s.Tick()
	}
}

// Tick advances to the next batch and dispatches it unless it is still in
// flight. Reports whether a job was dispatched.
func (s *PathUpdateSystem) Tick() bool {
	n := len(s.pending)
	if n == 0 {
		return false
	}
	s.current = (s.current + 1) % n
	return s.dispatch(s.current)
}

// InFlight reports whether batch b has a job outstanding.
func (s *PathUpdateSystem) InFlight(b int) bool {
	return s.pending[b] != nil
}

func (s *PathUpdateSystem) dispatch(b int) bool {
	if s.pending[b] != nil {
		s.log.Debug("路徑批次仍在處理中，略過本次更新", zap.Int("batch", b))
		event.Emit(s.bus, event.BatchTickDropped{Batch: b})
		return false
	}

	indices := s.state.Batches[b]
	pb := &s.batches[b]
	pb.rent(s.pools, len(indices))
	for i, ai := range indices {
		a := &s.state.Agents[ai]
		pb.positions[i] = a.Position()
		pb.oldPaths[i] = a.Path
		pb.skipped[i] = a.PathQueriesSkipped
		pb.skippedMax[i] = a.PathQueriesSkippedMax
		pb.reachable[i] = a.TargetReachable
	}
	target := s.state.TargetPosition()
	navigator, mapID, partial := s.nav, s.opts.MapID, s.opts.AllowPartial
	n := len(indices)

	fut := s.workers[b].Enqueue(func() error {
		for i := 0; i < n; i++ {
			if pb.skipped[i] < pb.skippedMax[i] && pb.reachable[i] && len(pb.oldPaths[i]) > 0 {
				pb.newPaths[i] = pb.oldPaths[i]
				pb.skipped[i]++
				pb.reused[i] = true
				continue
			}
			pb.skipped[i] = 0
			pb.reused[i] = false
			pb.newPaths[i] = navigator.FindPath(mapID, pb.positions[i], target, partial)
		}
		return nil
	})
	s.pending[b] = fut
	event.Emit(s.bus, event.BatchDispatched{Batch: b, Agents: n})

	deferred.Await(s.queue, fut, func(err error) {
		s.apply(b, err)
	})
	return true
}

// apply runs on the simulation goroutine once batch b's job has finished.
func (s *PathUpdateSystem) apply(b int, err error) {
	pb := &s.batches[b]
	defer func() {
		pb.release(s.pools)
		s.pending[b] = nil
	}()

	if s.state.TornDown() {
		return
	}
	if err != nil {
		s.log.Error("路徑批次工作失敗，捨棄本次結果",
			zap.Int("batch", b),
			zap.String("worker", s.workers[b].Name()),
			zap.Error(err),
		)
		event.Emit(s.bus, event.JobFailed{Worker: s.workers[b].Name(), Err: err})
		return
	}

	ev := event.PathsApplied{Batch: b}
	for i, ai := range s.state.Batches[b] {
		a := &s.state.Agents[ai]
		a.PathQueriesSkipped = pb.skipped[i]
		if pb.reused[i] {
			ev.Reused++
		} else {
			ev.Queried++
		}

		path := pb.newPaths[i]
		if len(path) == 0 {
			// Unreachable: keep the current path, the reachability check
			// forces a fresh query next round.
			ev.Empty++
			continue
		}
		start := Reanchor(a, path, s.opts.BreakLimit)
		a.Path = path
		a.PathIndex = start
		ev.Applied++
	}
	event.Emit(s.bus, ev)
}
