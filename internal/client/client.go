// Package client speaks the relay's raw line protocol from the client side:
// upgrade handshake, room command, then plain lines.
package client

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Tyrowin/roomrelay/internal/command"
	"github.com/Tyrowin/roomrelay/internal/handshake"
)

var (
	// ErrUpgradeRejected is returned when the server does not answer with
	// 101 Switching Protocols.
	ErrUpgradeRejected = errors.New("client: upgrade rejected")

	// ErrBadAcceptToken is returned when the server's accept token does not
	// match the nonce that was sent.
	ErrBadAcceptToken = errors.New("client: accept token mismatch")

	// ErrNoAck is returned when the server does not confirm the room.
	ErrNoAck = errors.New("client: missing room acknowledgement")
)

// Client is one relay connection.
type Client struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	parser command.Parser
	code   string
}

// Dial connects to addr and completes the upgrade handshake.
func Dial(ctx context.Context, addr string, parser command.Parser) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	c := New(conn, parser)
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := c.Handshake(addr); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return c, nil
}

// New wraps an established connection. Call Handshake before anything else.
func New(conn net.Conn, parser command.Parser) *Client {
	return &Client{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		parser: parser,
	}
}

// Handshake sends an upgrade request for host and verifies the response.
func (c *Client) Handshake(host string) error {
	nonce, err := newNonce()
	if err != nil {
		return err
	}

	request := "GET / HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + nonce + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := c.rw.WriteString(request); err != nil {
		return fmt.Errorf("client: write upgrade: %w", err)
	}
	if err := c.rw.Flush(); err != nil {
		return fmt.Errorf("client: write upgrade: %w", err)
	}

	status, err := c.rw.ReadString('\n')
	if err != nil {
		return fmt.Errorf("client: read upgrade: %w", err)
	}
	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		return fmt.Errorf("%w: %q", ErrUpgradeRejected, strings.TrimSpace(status))
	}

	var accept string
	for {
		line, err := c.rw.ReadString('\n')
		if err != nil {
			return fmt.Errorf("client: read upgrade: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Sec-WebSocket-Accept:"); ok {
			accept = strings.TrimSpace(v)
		}
	}

	if accept != handshake.AcceptToken(nonce) {
		return ErrBadAcceptToken
	}
	return nil
}

// Create asks for a new room and returns its code.
func (c *Client) Create() (string, error) {
	return c.command(c.parser.Create())
}

// Join joins the room for code and returns the normalised code.
func (c *Client) Join(code string) (string, error) {
	return c.command(c.parser.Join(code))
}

func (c *Client) command(line string) (string, error) {
	if err := c.Send(line); err != nil {
		return "", err
	}
	ack, err := c.Receive()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAck, err)
	}
	code, ok := c.parser.ParseAck(ack)
	if !ok {
		return "", fmt.Errorf("%w: got %q", ErrNoAck, ack)
	}
	c.code = code
	return code, nil
}

// Code returns the room code confirmed by the server.
func (c *Client) Code() string {
	return c.code
}

// Send writes one line.
func (c *Client) Send(line string) error {
	if _, err := c.rw.WriteString(line + "\n"); err != nil {
		return err
	}
	return c.rw.Flush()
}

// Receive reads one line without its trailing newline.
func (c *Client) Receive() (string, error) {
	line, err := c.rw.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

// SetReadDeadline bounds the next Receive calls.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("client: nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}
