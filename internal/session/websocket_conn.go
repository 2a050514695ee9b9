package session

import (
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second
)

// WebSocketConn carries lines over an already upgraded gorilla connection.
// Each message is framed like a chunk of the raw stream: a message holding
// newlines yields one line per newline-separated part, so raw TCP peers in
// the same room see the same lines. It has no in-band handshake.
type WebSocketConn struct {
	conn      *websocket.Conn
	pending   []string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps conn, limits inbound messages to maxMessageSize
// bytes and starts a keepalive ping loop that stops on Close.
func NewWebSocketConn(conn *websocket.Conn, maxMessageSize int64) *WebSocketConn {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	c := &WebSocketConn{
		conn: conn,
		done: make(chan struct{}),
	}
	go c.keepalive()
	return c
}

// ReadLine returns the next line, reading a new message when the lines of
// the previous one are used up. Control frames are handled by gorilla.
func (c *WebSocketConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", c.readError(err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			c.pending = splitLines(string(data))
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// splitLines frames msg as if it were followed by a newline on a raw stream.
func splitLines(msg string) []string {
	return strings.Split(strings.TrimSuffix(msg, "\n"), "\n")
}

func (c *WebSocketConn) readError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ErrLineTooLong
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure) {
		return io.EOF
	}
	return err
}

// WriteLine sends line as one text message.
func (c *WebSocketConn) WriteLine(line string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// SetReadDeadline bounds the next reads; the zero time clears it.
func (c *WebSocketConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close sends a normal close frame and closes the underlying connection.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// RemoteAddr returns the peer's network address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// keepalive pings the peer until the connection is closed. A failed ping
// closes the connection, which unblocks any pending read.
func (c *WebSocketConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
