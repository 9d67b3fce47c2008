package system

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/core/deferred"
	"github.com/swarmnav/swarm/internal/core/event"
	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/persist"
	"github.com/swarmnav/swarm/internal/worker"
)

// SampleWriter stores pipeline samples.
type SampleWriter interface {
	InsertSamples(ctx context.Context, samples []persist.Sample) error
}

// maxPendingSamples caps samples kept while the database lags behind.
const maxPendingSamples = 256

// PersistenceSystem accumulates pipeline counters from bus events and every
// interval hands a sample to the persistence worker. The simulation
// goroutine never waits on the database. Phase 5 (Persist).
type PersistenceSystem struct {
	store  SampleWriter
	worker *worker.Worker
	queue  *deferred.Queue
	log    *zap.Logger
	timer  interval

	tick     uint64
	current  persist.Sample
	pending  []persist.Sample
	inflight *worker.Future
	written  int
}

func NewPersistenceSystem(store SampleWriter, w *worker.Worker, queue *deferred.Queue, bus *event.Bus, every time.Duration, log *zap.Logger) *PersistenceSystem {
	s := &PersistenceSystem{
		store:  store,
		worker: w,
		queue:  queue,
		log:    log,
		timer:  newInterval(every),
	}
	// The first sample covers a full interval.
	s.timer.primed = true
	s.subscribe(bus)
	return s
}

func (s *PersistenceSystem) subscribe(bus *event.Bus) {
	event.Subscribe(bus, func(event.BatchDispatched) { s.current.Dispatched++ })
	event.Subscribe(bus, func(event.BatchTickDropped) { s.current.Dropped++ })
	event.Subscribe(bus, func(e event.PathsApplied) {
		s.current.Reused += e.Reused
		s.current.Queried += e.Queried
		s.current.Empty += e.Empty
	})
	event.Subscribe(bus, func(e event.DistancesApplied) { s.current.Unreachable = e.Unreachable })
	event.Subscribe(bus, func(event.FrameRotated) { s.current.Frames++ })
	event.Subscribe(bus, func(event.JobFailed) { s.current.Failures++ })
	event.Subscribe(bus, func(e event.TickCompleted) { s.tick = e.Tick })
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(dt time.Duration) {
	if s.timer.Due(dt) {
		s.Sample()
	}
}

// Sample closes the current sample and tries to write everything pending.
func (s *PersistenceSystem) Sample() {
	sample := s.current
	sample.Tick = s.tick
	s.pending = append(s.pending, sample)
	// Unreachable is a level, not a count: carry it into the next sample.
	s.current = persist.Sample{Unreachable: sample.Unreachable}

	if over := len(s.pending) - maxPendingSamples; over > 0 {
		s.log.Warn("資料庫寫入落後，捨棄最舊的取樣", zap.Int("dropped", over))
		s.pending = s.pending[over:]
	}
	s.flush()
}

func (s *PersistenceSystem) flush() {
	if s.inflight != nil || len(s.pending) == 0 {
		return
	}
	batch := s.pending
	s.pending = nil
	store := s.store
	s.inflight = s.worker.Enqueue(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return store.InsertSamples(ctx, batch)
	})
	deferred.Await(s.queue, s.inflight, func(err error) {
		s.inflight = nil
		if err != nil {
			s.log.Error("取樣寫入失敗",
				zap.String("worker", s.worker.Name()),
				zap.Int("samples", len(batch)),
				zap.Error(err),
			)
			return
		}
		s.written += len(batch)
	})
}

// Written returns how many samples reached the store.
func (s *PersistenceSystem) Written() int { return s.written }

// Pending returns samples waiting for the worker.
func (s *PersistenceSystem) Pending() int { return len(s.pending) }

// Shutdown writes the final partial sample and waits for the worker to
// store it.
func (s *PersistenceSystem) Shutdown(ctx context.Context) error {
	if s.inflight != nil {
		if err := s.inflight.Wait(ctx); err != nil {
			s.log.Warn("等待取樣寫入時發生錯誤", zap.Error(err))
		}
		s.inflight = nil
	}
	sample := s.current
	sample.Tick = s.tick
	batch := append(s.pending, sample)
	s.pending = nil
	fut := s.worker.Enqueue(func() error {
		return s.store.InsertSamples(ctx, batch)
	})
	if err := fut.Wait(ctx); err != nil {
		return err
	}
	s.written += len(batch)
	return nil
}
