package net

import (
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// Stream fans render buffers out to connected viewers. It is the simulation's
// render sink: Allocate and SubmitBuffers are called from the simulation
// loop, as are all session bookkeeping methods.
type Stream struct {
	sessions  map[uint64]*Session
	instances int
	format    geom.TransformFormat
	allocated bool
	seq       uint64
	frames    uint64 // frames actually encoded
	stride    int    // initial stride for new sessions
	log       *zap.Logger
}

func NewStream(defaultStride int, log *zap.Logger) *Stream {
	return &Stream{
		sessions: make(map[uint64]*Session),
		stride:   max(defaultStride, 1),
		log:      log,
	}
}

// Add tracks a newly connected session. It receives nothing until its
// C_HELLO is accepted.
func (st *Stream) Add(sess *Session) {
	sess.Stride = st.stride
	st.sessions[sess.ID] = sess
}

// Remove forgets a session.
func (st *Stream) Remove(id uint64) {
	delete(st.sessions, id)
}

// Get returns a session by ID, or nil.
func (st *Stream) Get(id uint64) *Session {
	return st.sessions[id]
}

// Raw exposes the session map for iteration on the simulation loop.
func (st *Stream) Raw() map[uint64]*Session {
	return st.sessions
}

// Len returns the number of tracked sessions.
func (st *Stream) Len() int { return len(st.sessions) }

// ForEach calls fn for every tracked session.
func (st *Stream) ForEach(fn func(*Session)) {
	for _, sess := range st.sessions {
		fn(sess)
	}
}

// Seq returns the number of submissions seen so far.
func (st *Stream) Seq() uint64 { return st.seq }

// Frames returns the number of frames encoded for at least one viewer.
func (st *Stream) Frames() uint64 { return st.frames }

// Allocate records the instance layout and announces it to streaming viewers.
func (st *Stream) Allocate(instances int, format geom.TransformFormat) {
	st.instances = instances
	st.format = format
	st.allocated = true
	msg := st.allocatePacket()
	for _, sess := range st.sessions {
		if sess.State() == packet.StateStreaming {
			sess.Send(msg)
		}
	}
}

// Welcome switches a session to streaming and sends it the current
// allocation, if any.
func (st *Stream) Welcome(sess *Session) {
	sess.SetState(packet.StateStreaming)
	if st.allocated {
		sess.Send(st.allocatePacket())
	}
}

func (st *Stream) allocatePacket() []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_ALLOCATE)
	w.WriteDU(uint32(st.instances))
	w.WriteC(byte(st.format))
	return w.Bytes()
}

// SubmitBuffers encodes one S_FRAME and queues it for every streaming viewer
// whose stride is due. The frame is encoded at most once per call and only
// when some viewer wants it.
func (st *Stream) SubmitBuffers(current, previous []float32) {
	st.seq++
	var frame []byte
	for _, sess := range st.sessions {
		if sess.State() != packet.StateStreaming || sess.IsClosed() {
			continue
		}
		if stride := uint64(max(sess.Stride, 1)); st.seq%stride != 0 {
			continue
		}
		if frame == nil {
			frame = EncodeFrame(st.seq, current, previous)
			st.frames++
		}
		sess.Send(frame)
	}
}

// Flush hands every session's buffered packets to its writer.
func (st *Stream) Flush() {
	for _, sess := range st.sessions {
		sess.FlushOutput()
	}
}

// CloseAll says goodbye to every viewer and closes the sessions.
func (st *Stream) CloseAll(reason string) {
	if len(st.sessions) > 0 {
		st.log.Info("關閉所有觀察端", zap.Int("sessions", len(st.sessions)), zap.String("reason", reason))
	}
	for id, sess := range st.sessions {
		w := packet.NewWriterWithOpcode(packet.S_OPCODE_BYE)
		w.WriteS(reason)
		sess.Send(w.Bytes())
		sess.FlushOutput()
		sess.Close()
		delete(st.sessions, id)
	}
}

// EncodeFrame builds an S_FRAME payload. current and previous must have the
// same length, a multiple of geom.FloatsPerTransform.
func EncodeFrame(seq uint64, current, previous []float32) []byte {
	instances := len(current) / geom.FloatsPerTransform
	w := packet.NewWriterSize(packet.S_OPCODE_FRAME, 1+8+4+4*(len(current)+len(previous)))
	w.WriteQ(seq)
	w.WriteDU(uint32(instances))
	w.WriteFloats(current)
	w.WriteFloats(previous)
	return w.Bytes()
}

// Frame is a decoded S_FRAME.
type Frame struct {
	Seq       uint64
	Instances int
	Current   []float32
	Previous  []float32
}

// DecodeFrame parses an S_FRAME payload.
func DecodeFrame(data []byte) (Frame, bool) {
	r := packet.NewReader(data)
	if r.Opcode() != packet.S_OPCODE_FRAME || r.Remaining() < 12 {
		return Frame{}, false
	}
	f := Frame{Seq: r.ReadQ(), Instances: int(r.ReadDU())}
	n := f.Instances * geom.FloatsPerTransform
	if r.Remaining() != 8*n {
		return Frame{}, false
	}
	f.Current = make([]float32, n)
	f.Previous = make([]float32, n)
	r.ReadFloats(f.Current)
	r.ReadFloats(f.Previous)
	return f, true
}
