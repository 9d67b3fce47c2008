package handler

import (
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// HandleHello processes C_HELLO. A matching protocol version moves the
// session to streaming and sends S_ALLOCATE; anything else gets S_BYE.
func HandleHello(sess *net.Session, r *packet.Reader, deps *Deps) {
	version := r.ReadD()
	name := r.ReadS()
	if version != packet.ProtocolVersion {
		deps.Log.Warn("觀察端協定版本不符",
			zap.Uint64("session", sess.ID),
			zap.Int32("version", version),
			zap.Int32("want", packet.ProtocolVersion),
		)
		w := packet.NewWriterWithOpcode(packet.S_OPCODE_BYE)
		w.WriteS("protocol version mismatch")
		sess.Send(w.Bytes())
		sess.FlushOutput()
		sess.Close()
		return
	}

	sess.Viewer = name
	deps.Stream.Welcome(sess)
	deps.Log.Info("觀察端開始串流",
		zap.Uint64("session", sess.ID),
		zap.String("viewer", name),
		zap.String("ip", sess.IP),
	)
}

// HandlePing answers C_PING with S_PONG carrying the same nonce.
func HandlePing(sess *net.Session, r *packet.Reader, _ *Deps) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_PONG)
	w.WriteQ(r.ReadQ())
	sess.Send(w.Bytes())
}

// HandleStride processes C_STRIDE: the viewer wants every n-th frame.
// n is clamped to [1, MaxStride].
func HandleStride(sess *net.Session, r *packet.Reader, deps *Deps) {
	n := int(r.ReadH())
	n = max(n, 1)
	if deps.MaxStride > 0 {
		n = min(n, deps.MaxStride)
	}
	sess.Stride = n
	deps.Log.Debug("觀察端調整幀間隔", zap.Uint64("session", sess.ID), zap.Int("stride", n))
}
