package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerOptions sizes per-session queues and socket deadlines.
type ServerOptions struct {
	InQueueSize  int
	OutQueueSize int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server accepts TCP connections and creates Sessions.
// New/dead sessions are communicated to the simulation loop via channels.
type Server struct {
	listener  net.Listener
	nextID    atomic.Uint64
	newConns  chan *Session
	deadCh    chan uint64 // session IDs of dead sessions
	opts      ServerOptions
	log       *zap.Logger
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewServer(bindAddr string, opts ServerOptions, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", bindAddr, err)
	}
	s := &Server{
		listener: ln,
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	return s, nil
}

// AcceptLoop runs in its own goroutine. It accepts connections, creates
// sessions, and pushes them onto the newConns channel. It returns nil once
// Shutdown is called.
func (s *Server) AcceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return nil // server shutting down
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("連線接受失敗", zap.Error(err))
			continue
		}

		id := s.nextID.Add(1)
		sess := NewSession(conn, id, s.opts.InQueueSize, s.opts.OutQueueSize, s.opts.ReadTimeout, s.opts.WriteTimeout, s.log)
		sess.Start()

		s.log.Info(fmt.Sprintf("觀察端連線  session=%d  ip=%s", id, sess.IP))

		select {
		case s.newConns <- sess:
		default:
			s.log.Warn("連線佇列已滿，拒絕新連線")
			sess.Close()
		}
	}
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead session ID.
func (s *Server) NotifyDead(sessionID uint64) {
	select {
	case s.deadCh <- sessionID:
	default:
	}
}

// DeadSessions returns the channel of dead session IDs.
func (s *Server) DeadSessions() <-chan uint64 {
	return s.deadCh
}

// Shutdown stops accepting new connections. Safe to call more than once.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.listener.Close()
	})
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
