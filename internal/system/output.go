package system

import (
	"time"

	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/net"
)

// OutputSystem flushes buffered viewer packets once per tick. Phase 4
// (Output), registered after RenderBufferSystem so this tick's frame goes out.
type OutputSystem struct {
	stream *net.Stream
}

func NewOutputSystem(stream *net.Stream) *OutputSystem {
	return &OutputSystem{stream: stream}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.stream.Flush()
}
