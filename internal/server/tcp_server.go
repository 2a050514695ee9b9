package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/session"
)

// Time allowed to write one line to a raw TCP peer.
const writeTimeout = 10 * time.Second

// TCPServer accepts raw line-protocol connections and hands each one to the
// hub.
type TCPServer struct {
	hub          *Hub
	maxLineSize  int
	writeTimeout time.Duration
	log          *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewTCPServer creates a TCP front end for hub. Lines longer than
// maxLineSize bytes end the session.
func NewTCPServer(hub *Hub, maxLineSize int, log *slog.Logger) *TCPServer {
	return &TCPServer{
		hub:          hub,
		maxLineSize:  maxLineSize,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// ListenAndServe listens on addr and serves until Close.
func (s *TCPServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close. It returns nil after Close.
func (s *TCPServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("tcp.listening", "addr", ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("tcp.accept", "err", err, "retry_in", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0
		s.hub.Go(session.NewLineConn(conn, s.maxLineSize, s.writeTimeout))
	}
}

// Close stops accepting connections. Live sessions belong to the hub.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
