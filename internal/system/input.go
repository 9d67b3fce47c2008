package system

import (
	"time"

	"go.uber.org/zap"

	coresys "github.com/swarmnav/swarm/internal/core/system"
	"github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// SessionSource is the accept side of the render stream server.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
	NotifyDead(id uint64)
}

// InputSystem accepts viewer sessions and drains their packet queues
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	server     SessionSource
	registry   *packet.Registry[*net.Session]
	stream     *net.Stream
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(server SessionSource, registry *packet.Registry[*net.Session], stream *net.Stream, maxPerTick int, log *zap.Logger) *InputSystem {
	return &InputSystem{
		server:     server,
		registry:   registry,
		stream:     stream,
		maxPerTick: max(maxPerTick, 1),
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.server.NewSessions():
			s.stream.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.server.DeadSessions():
			s.stream.Remove(id)
		default:
			goto doneDead
		}
	}
doneDead:

	// Drain packets from each session (up to maxPerTick per session)
	for id, sess := range s.stream.Raw() {
		if sess.IsClosed() {
			s.log.Info("觀察端斷線", zap.Uint64("session", id), zap.String("viewer", sess.Viewer))
			s.server.NotifyDead(id)
			s.stream.Remove(id)
			continue
		}

		for i := 0; i < s.maxPerTick; i++ {
			select {
			case data := <-sess.InQueue:
				if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
					s.log.Debug("封包分派錯誤",
						zap.Uint64("session", sess.ID),
						zap.Error(err),
					)
				}
			default:
				goto nextSession
			}
		}
	nextSession:
	}

	// Replies produced by handlers (pong, allocate) go out right away;
	// OutputSystem flushes frames at the end of the tick.
	s.stream.Flush()
}

// SessionCount returns the current number of tracked sessions.
func (s *InputSystem) SessionCount() int {
	return s.stream.Len()
}
