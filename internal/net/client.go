package net

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/swarmnav/swarm/internal/geom"
	"github.com/swarmnav/swarm/internal/net/packet"
)

// Message is one decoded server packet. Exactly one of the payload fields
// matching Opcode is set.
type Message struct {
	Opcode byte

	Instances int                  // S_ALLOCATE
	Format    geom.TransformFormat // S_ALLOCATE
	Frame     Frame                // S_FRAME
	Nonce     uint64               // S_PONG
	Reason    string               // S_BYE
}

// Client is the viewer side of the render stream. Receive must be called
// from one goroutine; the send methods may be called from any goroutine.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
}

// Dial connects to a render stream server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) send(w *packet.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.conn, w.Bytes())
}

// Hello sends C_HELLO with the current protocol version.
func (c *Client) Hello(name string) error {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_HELLO)
	w.WriteD(packet.ProtocolVersion)
	w.WriteS(name)
	return c.send(w)
}

// SetStride asks for every stride-th frame.
func (c *Client) SetStride(stride uint16) error {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_STRIDE)
	w.WriteH(stride)
	return c.send(w)
}

// Ping sends C_PING; the server echoes nonce in S_PONG.
func (c *Client) Ping(nonce uint64) error {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
	w.WriteQ(nonce)
	return c.send(w)
}

// Receive blocks for the next server packet.
func (c *Client) Receive() (Message, error) {
	data, err := ReadFrame(c.conn)
	if err != nil {
		return Message{}, err
	}
	r := packet.NewReader(data)
	msg := Message{Opcode: r.Opcode()}
	switch msg.Opcode {
	case packet.S_OPCODE_ALLOCATE:
		msg.Instances = int(r.ReadDU())
		msg.Format = geom.TransformFormat(r.ReadC())
	case packet.S_OPCODE_FRAME:
		f, ok := DecodeFrame(data)
		if !ok {
			return msg, fmt.Errorf("malformed frame (%d bytes)", len(data))
		}
		msg.Frame = f
	case packet.S_OPCODE_PONG:
		msg.Nonce = r.ReadQ()
	case packet.S_OPCODE_BYE:
		msg.Reason = r.ReadS()
	default:
		return msg, fmt.Errorf("unknown opcode 0x%02x", msg.Opcode)
	}
	return msg, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
