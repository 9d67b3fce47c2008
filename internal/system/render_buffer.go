package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/pool"
	"github.com/swarmnav/swarm/internal/worker"
	"github.com/swarmnav/swarm/internal/world"
)

// RenderSink consumes instance transform buffers. Allocate is called once;
// SubmitBuffers every physics tick with a fully written pair. The sink must
// not keep the slices past the call.
type RenderSink interface {
	Allocate(instances int, format geom.TransformFormat)
	SubmitBuffers(current, previous []float32)
}

// RenderBufferSystem flattens agent transforms on a worker into a
// triple-buffered set. The worker only ever writes the task buffer; next and
// previous are complete and go to the sink. Phase 4 (Output).
type RenderBufferSystem struct {
	state  *world.State
	worker *worker.Worker
	sink   RenderSink
	pools  *pool.Pools
	bus    *event.Bus
	log    *zap.Logger

	previous []float32
	next     []float32
	task     []float32
	snapshot []geom.Transform

	inflight *worker.Future
	cycles   uint64
}

// NewRenderBufferSystem allocates the buffers and fills next and previous
// with the spawn transforms so the first submitted pair is valid.
func NewRenderBufferSystem(state *world.State, w *worker.Worker, sink RenderSink, pools *pool.Pools, bus *event.Bus, log *zap.Logger) *RenderBufferSystem {
	n := state.AgentCount()
	s := &RenderBufferSystem{
		state:    state,
		worker:   w,
		sink:     sink,
		pools:    pools,
		bus:      bus,
		log:      log,
		previous: pools.Floats.Rent(n * geom.FloatsPerTransform),
		next:     pools.Floats.Rent(n * geom.FloatsPerTransform),
		task:     pools.Floats.Rent(n * geom.FloatsPerTransform),
		snapshot: pools.Xforms.Rent(n),
	}
	state.CopyTransforms(s.snapshot)
	geom.FlattenAll(s.next, s.snapshot)
	copy(s.previous, s.next)
	if sink != nil {
		sink.Allocate(n, geom.Transform3D)
	}
	return s
}

func (s *RenderBufferSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *RenderBufferSystem) Update(_ time.Duration) {
	if s.inflight != nil && s.inflight.IsCompleted() {
		if err := s.inflight.Err(); err != nil {
			s.log.Error("渲染緩衝建構失敗，丟棄本幀",
				zap.String("worker", s.worker.Name()),
				zap.Error(err),
			)
			event.Emit(s.bus, event.JobFailed{Worker: s.worker.Name(), Err: err})
		} else {
			s.next, s.task, s.previous = s.task, s.previous, s.next
			s.cycles++
			event.Emit(s.bus, event.FrameRotated{Cycle: s.cycles})
		}
		s.inflight = nil
	}

	if s.inflight == nil && len(s.snapshot) > 0 && !s.state.TornDown() {
		s.state.CopyTransforms(s.snapshot)
		dst, src := s.task, s.snapshot
		s.inflight = s.worker.Enqueue(func() error {
			geom.FlattenAll(dst, src)
			return nil
		})
	}

	if s.sink != nil {
		s.sink.SubmitBuffers(s.next, s.previous)
	}
}

// Buffers returns the pair currently visible to the renderer.
func (s *RenderBufferSystem) Buffers() (next, previous []float32) {
	return s.next, s.previous
}

// Cycles counts completed flatten jobs.
func (s *RenderBufferSystem) Cycles() uint64 { return s.cycles }

// Release returns the buffers to the pool. Call only after the render
// worker has been closed.
func (s *RenderBufferSystem) Release() {
	s.pools.Floats.Return(s.previous)
	s.pools.Floats.Return(s.next)
	s.pools.Floats.Return(s.task)
	s.pools.Xforms.Return(s.snapshot)
	s.previous, s.next, s.task, s.snapshot = nil, nil, nil, nil
}
