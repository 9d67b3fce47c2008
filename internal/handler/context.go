package handler

import (
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Stream    *net.Stream
	MaxStride int
	Log       *zap.Logger
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry[*net.Session], deps *Deps) {
	// Handshake phase
	reg.Register(packet.C_OPCODE_HELLO, packet.States(packet.StateHandshake),
		func(sess *net.Session, r *packet.Reader) { HandleHello(sess, r, deps) })

	// Both phases: viewers may ping before saying hello.
	reg.Register(packet.C_OPCODE_PING, packet.States(packet.StateHandshake, packet.StateStreaming),
		func(sess *net.Session, r *packet.Reader) { HandlePing(sess, r, deps) })

	reg.Register(packet.C_OPCODE_STRIDE, packet.States(packet.StateStreaming),
		func(sess *net.Session, r *packet.Reader) { HandleStride(sess, r, deps) })
}
