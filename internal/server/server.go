package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomrelay/internal/room"
	"github.com/Tyrowin/roomrelay/internal/session"
)

// Server bundles the hub with its TCP and HTTP front ends.
type Server struct {
	cfg      Config
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *slog.Logger

	tcp  *TCPServer
	http *http.Server
}

// New builds a server from cfg. fwd may be nil when no other instance needs
// to see this instance's traffic.
func New(cfg *Config, logger *slog.Logger, fwd session.Forwarder) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	c := sanitizeConfig(*cfg)
	if logger == nil {
		logger = slog.Default()
	}

	registry := room.NewRegistry(c.BroadcastCapacity, logger)
	hub := NewHub(registry, c.SessionOptions(logger, fwd))

	s := &Server{
		cfg:     c,
		hub:     hub,
		origins: newOriginPolicy(c.AllowedOrigins, logger),
		log:     logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.tcp = NewTCPServer(hub, int(c.MaxMessageSize), logger)
	if c.Port != "" {
		s.http = CreateServer(c.Port, SetupRoutes(s))
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Registry returns the room registry.
func (s *Server) Registry() *room.Registry {
	return s.hub.Registry()
}

// ServeTCP serves the raw line protocol on ln until Shutdown.
func (s *Server) ServeTCP(ln net.Listener) error {
	return s.tcp.Serve(ln)
}

// Run serves both listeners until ctx is cancelled or one of them fails,
// then shuts everything down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errs := make(chan error, 2)

	go func() { errs <- s.tcp.ListenAndServe(s.cfg.TCPAddr) }()
	if s.http != nil {
		go func() {
			if err := StartServer(s.http, s.log); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	if shutdownErr := s.Shutdown(timeout); err == nil {
		err = shutdownErr
	}
	return err
}

// Shutdown closes the listeners and then every live session.
func (s *Server) Shutdown(timeout time.Duration) error {
	var errs []error
	if err := s.tcp.Close(); err != nil && !isExpectedCloseError(err) {
		errs = append(errs, err)
	}
	if s.http != nil {
		if err := ShutdownServer(s.http, timeout, s.log); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.hub.Shutdown(timeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func isExpectedCloseError(err error) bool {
	return err == nil || errors.Is(err, net.ErrClosed)
}
