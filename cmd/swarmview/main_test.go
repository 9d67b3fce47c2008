package main

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swarmnav/swarm/internal/geom"
	gonet "github.com/swarmnav/swarm/internal/net"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// handshake is what the fake server read from the viewer.
type handshake struct {
	version int32
	name    string
	stride  uint16
	err     error
}

// serveViewer plays the server side: it reads C_HELLO (and C_STRIDE when
// wantStride is set), then writes packets in order.
func serveViewer(conn net.Conn, wantStride bool, packets ...[]byte) <-chan handshake {
	out := make(chan handshake, 1)
	go func() {
		var hs handshake
		defer func() { out <- hs }()

		raw, err := gonet.ReadFrame(conn)
		if err != nil {
			hs.err = err
			return
		}
		r := packet.NewReader(raw)
		hs.version = r.ReadD()
		hs.name = r.ReadS()
		if wantStride {
			if raw, err = gonet.ReadFrame(conn); err != nil {
				hs.err = err
				return
			}
			hs.stride = packet.NewReader(raw).ReadH()
		}
		for _, p := range packets {
			if err := gonet.WriteFrame(conn, p); err != nil {
				hs.err = err
				return
			}
		}
	}()
	return out
}

// origins builds a flat transform buffer with identity bases and the given
// origins.
func origins(pts ...geom.Vec3) []float32 {
	buf := make([]float32, 0, len(pts)*geom.FloatsPerTransform)
	for _, p := range pts {
		buf = append(buf, 1, 0, 0, p.X, 0, 1, 0, p.Y, 0, 0, 1, p.Z)
	}
	return buf
}

func allocatePacket(n int) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_ALLOCATE)
	w.WriteDU(uint32(n))
	w.WriteC(byte(geom.Transform3D))
	return w.Bytes()
}

func byePacket(reason string) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_BYE)
	w.WriteS(reason)
	return w.Bytes()
}

func quietOptions() viewOptions {
	return viewOptions{name: "test-viewer", report: time.Hour}
}

func TestStatsObserve(t *testing.T) {
	var s stats
	s.observe(gonet.Frame{
		Seq:       9,
		Instances: 2,
		Current:   origins(geom.V(0, 0, 0), geom.V(4, 0, 2)),
		Previous:  origins(geom.V(0, 0, -1), geom.V(4, 0, -1)),
	})

	assert.Equal(t, 1, s.frames)
	assert.Equal(t, uint64(9), s.lastSeq)
	assert.Equal(t, 2, s.instances)
	assert.InDelta(t, 2, s.centroid.X, 1e-6)
	assert.InDelta(t, 1, s.centroid.Z, 1e-6)
	assert.InDelta(t, 2, s.meanStep, 1e-6)

	s.observe(gonet.Frame{Seq: 10})
	assert.Equal(t, 2, s.frames)
	assert.Equal(t, 0, s.instances)
}

func TestStreamStopsAtFrameLimit(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client := gonet.NewClient(local)
	defer client.Close()

	cur := origins(geom.V(1, 0, 1))
	served := serveViewer(remote, true,
		allocatePacket(1),
		gonet.EncodeFrame(1, cur, cur),
		gonet.EncodeFrame(2, cur, cur),
	)

	opts := quietOptions()
	opts.stride = 4
	opts.frames = 2
	total, err := stream(context.Background(), client, opts, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	hs := <-served
	require.NoError(t, hs.err)
	assert.Equal(t, packet.ProtocolVersion, hs.version)
	assert.Equal(t, "test-viewer", hs.name)
	assert.Equal(t, uint16(4), hs.stride)
}

func TestStreamEndsOnBye(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client := gonet.NewClient(local)
	defer client.Close()

	served := serveViewer(remote, false, byePacket("shutting down"))

	total, err := stream(context.Background(), client, quietOptions(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	require.NoError(t, (<-served).err)
}

func TestStreamReportsReceiveError(t *testing.T) {
	local, remote := net.Pipe()
	client := gonet.NewClient(local)
	defer client.Close()

	served := serveViewer(remote, false)
	go func() {
		<-served
		remote.Close()
	}()

	_, err := stream(context.Background(), client, quietOptions(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receive")
}

func TestStreamStopsOnCancel(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	client := gonet.NewClient(local)
	defer client.Close()

	served := serveViewer(remote, false)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-served
		cancel()
	}()

	total, err := stream(ctx, client, quietOptions(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestRootCommandViewsStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	served := make(chan handshake, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			served <- handshake{err: err}
			return
		}
		defer conn.Close()
		cur := origins(geom.V(0, 0, 0), geom.V(2, 0, 0))
		served <- <-serveViewer(conn, true, allocatePacket(2), gonet.EncodeFrame(1, cur, cur))
	}()

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{
		"--addr", ln.Addr().String(),
		"--name", "cli",
		"--stride", "2",
		"--frames", "1",
		"--ping", "0",
		"--report", "1h",
	})
	require.NoError(t, rootCmd.Execute())

	hs := <-served
	require.NoError(t, hs.err)
	assert.Equal(t, "cli", hs.name)
	assert.Equal(t, uint16(2), hs.stride)
}

func TestRootCommandRejectsNonPositiveReport(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"--addr", "127.0.0.1:1", "--report", "0s"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--report")
}
