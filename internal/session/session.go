// Package session runs one client connection through the upgrade
// handshake, the room command and the duplex relay loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/roomrelay/internal/command"
	"github.com/Tyrowin/roomrelay/internal/handshake"
	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/room"
)

var (
	// ErrPeerClosed is returned when the peer closes the connection.
	ErrPeerClosed = errors.New("session: peer closed connection")

	// ErrChannelClosed is returned when the room's broadcast group can no
	// longer be used.
	ErrChannelClosed = errors.New("session: broadcast group closed")
)

// IOError wraps a failed read or write on the session's connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// State is the lifecycle position of a session. States only move forward.
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateAwaitingRoomCommand
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAwaitingRoomCommand:
		return "awaiting_room_command"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Forwarder carries locally published lines to other relay instances.
type Forwarder interface {
	Forward(ctx context.Context, code string, env room.Envelope) error
}

// Options configures a session.
type Options struct {
	Parser command.Parser

	// Generate supplies candidate codes for rooms created by this session.
	Generate func() string

	// CommandTimeout bounds the handshake and the wait for the room
	// command. Zero means no bound.
	CommandTimeout time.Duration

	// RateLimitBurst lines may be published per RateLimitInterval.
	// A zero burst disables rate limiting.
	RateLimitBurst    int
	RateLimitInterval time.Duration

	Forwarder Forwarder
	Logger    *slog.Logger
}

// Session owns one live connection from accept to close.
type Session struct {
	conn     Conn
	peer     room.PeerID
	registry *room.Registry
	opts     Options
	limiter  *rateLimiter
	log      *slog.Logger

	state atomic.Int32
	code  string
}

// New creates a session for conn. The registry is shared by every session
// of the process.
func New(conn Conn, registry *room.Registry, opts Options) *Session {
	if opts.Parser.Prefix == "" {
		opts.Parser = command.NewParser("", 0)
	}
	if opts.Generate == nil {
		opts.Generate = command.CodeGenerator(opts.Parser.CodeLength)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	peer := room.NewPeerID(conn.RemoteAddr())
	s := &Session{
		conn:     conn,
		peer:     peer,
		registry: registry,
		opts:     opts,
		log:      logger.With("peer", peer.String()),
	}
	if opts.RateLimitBurst > 0 {
		s.limiter = newRateLimiter(opts.RateLimitBurst, opts.RateLimitInterval)
	}
	return s
}

// Peer returns the session's identity.
func (s *Session) Peer() room.PeerID {
	return s.peer
}

// State returns the current lifecycle state. Safe for concurrent use.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Code returns the joined room code. It is only meaningful once the session
// has reached StateRelaying, and only from the goroutine running Run or after
// Run has returned.
func (s *Session) Code() string {
	return s.code
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Debug("session.state", "state", st.String())
}

// Run drives the session until the connection closes, an error occurs or
// ctx is cancelled. The connection is always closed when Run returns, and
// room membership is released if the session had joined a room.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("session.close", "err", err)
		}
		s.setState(StateClosed)
	}()

	// Closing the connection is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	if err := s.negotiate(); err != nil {
		return s.contextErr(ctx, err)
	}

	s.setState(StateAwaitingRoomCommand)
	intent, err := s.awaitCommand()
	if err != nil {
		return s.contextErr(ctx, err)
	}

	sub, err := s.join(intent)
	if err != nil {
		return err
	}
	defer s.leave(sub)

	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return &IOError{Op: "clear deadline", Err: err}
	}
	if err := s.conn.WriteLine(s.opts.Parser.Ack(s.code)); err != nil {
		return s.contextErr(ctx, &IOError{Op: "write", Err: err})
	}

	s.setState(StateRelaying)
	return s.relay(ctx, sub)
}

func (s *Session) negotiate() error {
	if s.opts.CommandTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.CommandTimeout)); err != nil {
			return &IOError{Op: "set deadline", Err: err}
		}
	}

	n, ok := s.conn.(Negotiator)
	if !ok {
		return nil
	}
	s.setState(StateHandshaking)
	return n.Negotiate()
}

// awaitCommand reads lines until one carries the command prefix. Blank and
// foreign lines are keepalive noise.
func (s *Session) awaitCommand() (command.Intent, error) {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			return nil, s.readError(err)
		}
		if !s.opts.Parser.Matches(line) {
			s.log.Debug("session.noise", "len", len(line))
			continue
		}
		return s.opts.Parser.Parse(line)
	}
}

func (s *Session) join(intent command.Intent) (*room.Subscription, error) {
	switch in := intent.(type) {
	case command.CreateRoom:
		code, sub, err := s.registry.Create(s.opts.Generate, s.peer)
		if err != nil {
			return nil, err
		}
		s.code = code
		s.log.Info("session.created_room", "room", code)
		return sub, nil
	case command.JoinRoom:
		s.code = in.Code
		s.log.Info("session.joined_room", "room", in.Code)
		return s.registry.Join(in.Code, s.peer), nil
	default:
		return nil, command.ErrInvalidCommand
	}
}

func (s *Session) leave(sub *room.Subscription) {
	sub.Close()
	if s.registry.RemoveIfEmpty(s.code, s.peer) {
		s.log.Debug("session.last_out", "room", s.code)
	}
}

// relay races the next inbound line against the next broadcast envelope
// until either side ends.
func (s *Session) relay(ctx context.Context, sub *room.Subscription) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLines(lines, readErr, done)
	}()
	defer func() {
		close(done)
		_ = s.conn.Close()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return s.contextErr(ctx, s.readError(err))

		case line := <-lines:
			if err := s.publish(ctx, sub, line); err != nil {
				return err
			}

		case env, ok := <-sub.C():
			if !ok {
				return ErrChannelClosed
			}
			if err := s.deliver(sub, env); err != nil {
				return s.contextErr(ctx, err)
			}
		}
	}
}

func (s *Session) readLines(lines chan<- string, readErr chan<- error, done <-chan struct{}) {
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case lines <- line:
		case <-done:
			return
		}
	}
}

func (s *Session) publish(ctx context.Context, sub *room.Subscription, line string) error {
	if !s.limiter.allow() {
		metrics.MessagesRateLimited.Inc()
		s.log.Warn("session.rate_limited", "room", s.code, "burst", s.opts.RateLimitBurst, "interval", s.opts.RateLimitInterval)
		return nil
	}

	if _, err := sub.Publish(line); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelClosed, err)
	}
	metrics.MessagesPublished.Inc()

	if s.opts.Forwarder != nil {
		env := room.Envelope{Payload: line, Origin: s.peer}
		if err := s.opts.Forwarder.Forward(ctx, s.code, env); err != nil {
			s.log.Warn("session.forward", "room", s.code, "err", err)
		}
	}
	return nil
}

func (s *Session) deliver(sub *room.Subscription, env room.Envelope) error {
	if missed := sub.Lagged(); missed > 0 {
		metrics.MessagesLagged.Add(float64(missed))
		s.log.Warn("session.lagged", "room", s.code, "missed", missed)
	}

	if env.Origin == s.peer {
		return nil
	}

	if err := s.conn.WriteLine(env.Payload); err != nil {
		return &IOError{Op: "write", Err: err}
	}
	metrics.MessagesDelivered.Inc()
	return nil
}

func (s *Session) readError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return ErrPeerClosed
	case errors.Is(err, ErrLineTooLong):
		return err
	case errors.Is(err, handshake.ErrMissingNonce), errors.Is(err, handshake.ErrHeaderTooLarge):
		return err
	default:
		return &IOError{Op: "read", Err: err}
	}
}

// contextErr reports cancellation instead of the read or write failure it
// caused by closing the connection.
func (s *Session) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Reason classifies a Run error for logs and metrics.
func Reason(err error) string {
	var hsIO *handshake.IOError
	var ioErr *IOError
	switch {
	case err == nil, errors.Is(err, ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, handshake.ErrMissingNonce), errors.Is(err, handshake.ErrHeaderTooLarge), errors.As(err, &hsIO):
		return "handshake"
	case errors.Is(err, command.ErrInvalidCommand), errors.Is(err, command.ErrInvalidRoomCode), errors.Is(err, room.ErrNoFreeCode):
		return "protocol"
	case errors.Is(err, ErrLineTooLong):
		return "line_too_long"
	case errors.Is(err, ErrChannelClosed):
		return "channel_closed"
	case errors.As(err, &ioErr):
		return "io"
	default:
		return "other"
	}
}
