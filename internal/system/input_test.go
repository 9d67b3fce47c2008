package system

import (
	stdnet "net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/handler"
	"github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

type fakeServer struct {
	newCh  chan *net.Session
	deadCh chan uint64
	dead   []uint64
}

func newFakeServer() *fakeServer {
	return &fakeServer{newCh: make(chan *net.Session, 4), deadCh: make(chan uint64, 4)}
}

func (f *fakeServer) NewSessions() <-chan *net.Session { return f.newCh }
func (f *fakeServer) DeadSessions() <-chan uint64      { return f.deadCh }
func (f *fakeServer) NotifyDead(id uint64)             { f.dead = append(f.dead, id) }

func viewerSession(t *testing.T, id uint64) (*net.Session, stdnet.Conn) {
	t.Helper()
	server, client := stdnet.Pipe()
	sess := net.NewSession(server, id, 8, 8, 0, time.Second, zap.NewNop())
	t.Cleanup(func() {
		sess.Close()
		client.Close()
	})
	return sess, client
}

func newStreamInput(t *testing.T) (*InputSystem, *fakeServer, *net.Stream) {
	log := zap.NewNop()
	stream := net.NewStream(1, log)
	reg := packet.NewRegistry[*net.Session](log)
	handler.RegisterAll(reg, &handler.Deps{Stream: stream, MaxStride: 10, Log: log})
	srv := newFakeServer()
	return NewInputSystem(srv, reg, stream, 8, log), srv, stream
}

func hello(version int32) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_HELLO)
	w.WriteD(version)
	w.WriteS("viewer")
	return w.Bytes()
}

func TestInputAcceptsAndDispatches(t *testing.T) {
	in, srv, stream := newStreamInput(t)
	stream.Allocate(4, geom.Transform3D)

	sess, _ := viewerSession(t, 1)
	srv.newCh <- sess
	sess.InQueue <- hello(packet.ProtocolVersion)
	stride := packet.NewWriterWithOpcode(packet.C_OPCODE_STRIDE)
	stride.WriteH(50)
	sess.InQueue <- stride.Bytes()

	in.Update(0)

	assert.Equal(t, 1, in.SessionCount())
	assert.Equal(t, packet.StateStreaming, sess.State())
	assert.Equal(t, "viewer", sess.Viewer)
	assert.Equal(t, 10, sess.Stride, "clamped to the configured maximum")
	require.Len(t, sess.OutQueue, 1, "allocation flushed in the same tick")
	assert.Equal(t, packet.S_OPCODE_ALLOCATE, (<-sess.OutQueue)[0])
}

func TestInputAnswersPing(t *testing.T) {
	in, srv, _ := newStreamInput(t)
	sess, _ := viewerSession(t, 1)
	srv.newCh <- sess

	ping := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
	ping.WriteQ(1234)
	sess.InQueue <- ping.Bytes()
	in.Update(0)

	require.Len(t, sess.OutQueue, 1)
	r := packet.NewReader(<-sess.OutQueue)
	assert.Equal(t, packet.S_OPCODE_PONG, r.Opcode())
	assert.Equal(t, uint64(1234), r.ReadQ())
}

func TestInputRejectsWrongVersion(t *testing.T) {
	in, srv, _ := newStreamInput(t)
	sess, _ := viewerSession(t, 1)
	srv.newCh <- sess
	sess.InQueue <- hello(packet.ProtocolVersion + 1)

	in.Update(0)
	assert.True(t, sess.IsClosed())

	in.Update(0)
	assert.Equal(t, 0, in.SessionCount())
	assert.Equal(t, []uint64{1}, srv.dead)
}

func TestInputDropsDeadSessions(t *testing.T) {
	in, srv, _ := newStreamInput(t)
	sess, _ := viewerSession(t, 7)
	srv.newCh <- sess
	in.Update(0)
	require.Equal(t, 1, in.SessionCount())

	srv.deadCh <- 7
	in.Update(0)
	assert.Equal(t, 0, in.SessionCount())
}

func TestOutputFlushesFrames(t *testing.T) {
	in, srv, stream := newStreamInput(t)
	out := NewOutputSystem(stream)
	sess, _ := viewerSession(t, 1)
	srv.newCh <- sess
	sess.InQueue <- hello(packet.ProtocolVersion)
	in.Update(0)
	require.Equal(t, packet.StateStreaming, sess.State())

	stream.Allocate(1, geom.Transform3D)
	buf := make([]float32, geom.FloatsPerTransform)
	stream.SubmitBuffers(buf, buf)
	assert.Equal(t, 2, sess.Buffered())

	out.Update(0)
	assert.Equal(t, 0, sess.Buffered())
	assert.Len(t, sess.OutQueue, 2)
}
