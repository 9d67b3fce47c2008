package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateHandshake SessionState = iota // connected, awaiting C_HELLO
	StateStreaming                     // receiving frames
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateStreaming:
		return "Streaming"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// StateSet is a set of session states a handler accepts.
type StateSet uint8

// States builds a StateSet.
func States(states ...SessionState) StateSet {
	var set StateSet
	for _, s := range states {
		set |= 1 << uint(s)
	}
	return set
}

func (set StateSet) Has(s SessionState) bool { return set&(1<<uint(s)) != 0 }

var (
	ErrEmptyPacket     = errors.New("empty packet")
	ErrStateNotAllowed = errors.New("opcode not allowed in session state")
)

// HandlerFunc handles one decoded packet for session type S.
type HandlerFunc[S any] func(sess S, r *Reader)

type handlerEntry[S any] struct {
	fn      HandlerFunc[S]
	allowed StateSet
}

// Registry maps opcodes to handlers with state-based access control.
// Accessed only from the simulation goroutine.
type Registry[S any] struct {
	handlers [256]*handlerEntry[S]
	counts   [256]uint64
	unknown  uint64
	rejected uint64
	log      *zap.Logger
}

func NewRegistry[S any](log *zap.Logger) *Registry[S] {
	return &Registry[S]{log: log}
}

// Register maps an opcode to a handler, restricted to the given states.
// Registering an opcode twice is a programming error and panics.
func (reg *Registry[S]) Register(opcode byte, allowed StateSet, fn HandlerFunc[S]) {
	if reg.handlers[opcode] != nil {
		panic(fmt.Sprintf("packet: opcode 0x%02x registered twice", opcode))
	}
	reg.handlers[opcode] = &handlerEntry[S]{fn: fn, allowed: allowed}
}

// Dispatch finds the handler for the opcode in data[0], validates the session
// state, and calls the handler. Unknown opcodes are counted and ignored.
func (reg *Registry[S]) Dispatch(sess S, state SessionState, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	opcode := data[0]
	reg.log.Debug("收到封包",
		zap.Uint8("opcode", opcode),
		zap.Int("size", len(data)),
		zap.String("state", state.String()),
	)

	entry := reg.handlers[opcode]
	if entry == nil {
		reg.unknown++
		reg.log.Debug("未知操作碼", zap.Uint8("opcode", opcode), zap.String("state", state.String()))
		return nil
	}
	if !entry.allowed.Has(state) {
		reg.rejected++
		reg.log.Warn("操作碼在此狀態下不允許",
			zap.Uint8("opcode", opcode),
			zap.String("state", state.String()),
		)
		return fmt.Errorf("opcode 0x%02x in %s: %w", opcode, state, ErrStateNotAllowed)
	}

	reg.counts[opcode]++
	return reg.safeCall(entry.fn, sess, NewReader(data), opcode)
}

// Handled returns how many packets with opcode reached their handler.
func (reg *Registry[S]) Handled(opcode byte) uint64 { return reg.counts[opcode] }

// Unknown returns how many packets carried an unregistered opcode.
func (reg *Registry[S]) Unknown() uint64 { return reg.unknown }

// Rejected returns how many packets arrived in a state their handler refuses.
func (reg *Registry[S]) Rejected() uint64 { return reg.rejected }

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take down the simulation loop.
func (reg *Registry[S]) safeCall(fn HandlerFunc[S], sess S, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("handler panic for opcode 0x%02x: %v", opcode, rec)
		}
	}()
	fn(sess, r)
	return nil
}
