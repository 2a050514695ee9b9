// Package server tracks live relay sessions and shuts them down together via
// the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/session"
)

// ErrHubClosed is returned by Serve once Shutdown has begun.
var ErrHubClosed = errors.New("server: hub is shut down")

// Hub runs one session per accepted connection, whatever the transport, and
// owns the registry those sessions share. All sessions stop when the hub
// shuts down.
type Hub struct {
	registry *room.Registry
	opts     session.Options
	log      *slog.Logger

	sessions map[*session.Session]struct{}
	closing  bool
	mutex    sync.Mutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewHub creates a hub that starts sessions with opts against registry.
func NewHub(registry *room.Registry, opts session.Options) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		opts:     opts,
		log:      logger,
		sessions: make(map[*session.Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the room registry shared by the hub's sessions.
func (h *Hub) Registry() *room.Registry {
	return h.registry
}

// Serve runs a session for conn and blocks until it ends.
func (h *Hub) Serve(conn session.Conn) error {
	s, err := h.register(conn)
	if err != nil {
		return err
	}
	defer h.wg.Done()
	return h.run(s)
}

// Go runs Serve for conn in a new goroutine.
func (h *Hub) Go(conn session.Conn) {
	go func() { _ = h.Serve(conn) }()
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.sessions)
}

func (h *Hub) register(conn session.Conn) (*session.Session, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.closing {
		_ = conn.Close()
		return nil, ErrHubClosed
	}

	s := session.New(conn, h.registry, h.opts)
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	metrics.SessionsActive.Inc()
	h.log.Info("session.opened", "peer", s.Peer().String(), "sessions", len(h.sessions))
	return s, nil
}

func (h *Hub) run(s *session.Session) error {
	err := s.Run(h.ctx)

	h.mutex.Lock()
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mutex.Unlock()
	metrics.SessionsActive.Dec()

	reason := session.Reason(err)
	attrs := []any{"peer", s.Peer().String(), "room", s.Code(), "reason", reason, "sessions", count}
	switch reason {
	case "peer_closed", "canceled":
		h.log.Info("session.closed", attrs...)
	default:
		metrics.SessionErrors.WithLabelValues(reason).Inc()
		h.log.Warn("session.closed", append(attrs, "err", err)...)
	}
	return err
}

// Shutdown stops accepting sessions, cancels the live ones and waits for
// them to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mutex.Lock()
	h.closing = true
	count := len(h.sessions)
	h.mutex.Unlock()

	h.log.Info("hub.shutdown", "sessions", count)
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub.shutdown_complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub.shutdown_timeout", "sessions", h.Count())
		return context.DeadlineExceeded
	}
}
