package session

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/handshake"
)

// ErrLineTooLong is returned when a peer sends a line longer than the
// configured maximum.
var ErrLineTooLong = errors.New("session: line exceeds maximum size")

// Conn abstracts a line-oriented duplex connection so the session does not
// care whether lines travel over a raw TCP stream or WebSocket frames.
type Conn interface {
	// ReadLine returns the next line without its trailing newline. It
	// returns io.EOF once the peer has closed the connection.
	ReadLine() (string, error)

	// WriteLine writes line followed by a newline and flushes it.
	WriteLine(line string) error

	// SetReadDeadline bounds the next reads; the zero time clears it.
	SetReadDeadline(t time.Time) error

	// Close closes the connection. It is safe to call more than once.
	Close() error

	// RemoteAddr returns the peer address for logging and identity.
	RemoteAddr() string
}

// Negotiator is implemented by transports that must run the upgrade
// handshake in-band before any line can be exchanged.
type Negotiator interface {
	Negotiate() error
}

// LineConn carries newline-terminated text over a raw stream connection
// after answering the upgrade handshake on the same stream.
type LineConn struct {
	conn         net.Conn
	rw           *bufio.ReadWriter
	maxLineSize  int
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewLineConn wraps conn. Lines longer than maxLineSize bytes terminate the
// read with ErrLineTooLong; writes time out after writeTimeout when set.
func NewLineConn(conn net.Conn, maxLineSize int, writeTimeout time.Duration) *LineConn {
	return &LineConn{
		conn:         conn,
		rw:           bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		maxLineSize:  maxLineSize,
		writeTimeout: writeTimeout,
	}
}

// Negotiate answers the upgrade request waiting at the head of the stream.
func (c *LineConn) Negotiate() error {
	_, err := handshake.Negotiate(c.rw)
	return err
}

// ReadLine returns the next line without its trailing newline. A final line
// cut off by EOF is returned as is.
func (c *LineConn) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, err := c.rw.ReadSlice('\n')
		if c.maxLineSize > 0 && sb.Len()+len(chunk) > c.maxLineSize+1 {
			return "", ErrLineTooLong
		}
		sb.Write(chunk)

		switch {
		case err == nil:
			return strings.TrimSuffix(sb.String(), "\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && sb.Len() > 0:
			// A final unterminated line still counts; EOF follows on the next read.
			return sb.String(), nil
		default:
			return "", err
		}
	}
}

// WriteLine writes line and a newline, then flushes.
func (c *LineConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if _, err := c.rw.WriteString(line + "\n"); err != nil {
		return err
	}
	return c.rw.Flush()
}

// SetReadDeadline bounds the next reads; the zero time clears it.
func (c *LineConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection once; later calls return the first result.
func (c *LineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the peer's network address.
func (c *LineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
