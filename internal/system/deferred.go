package system

import (
	"time"

	"github.com/swarmnav/swarm/internal/core/deferred"
	coresys "github.com/swarmnav/swarm/internal/core/system"
)

// DeferredSystem applies worker results queued since the last drain, so every
// agent mutation from a finished job lands before this tick reads state.
// Phase 0 (Input).
type DeferredSystem struct {
	queue *deferred.Queue
}

func NewDeferredSystem(q *deferred.Queue) *DeferredSystem {
	return &DeferredSystem{queue: q}
}

func (s *DeferredSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *DeferredSystem) Update(_ time.Duration) {
	s.queue.Drain()
}
