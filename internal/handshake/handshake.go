// Package handshake performs the server side of the upgrade handshake that
// turns a raw stream connection into a persistent line channel.
package handshake

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// magicGUID is the fixed string appended to the client nonce before hashing.
const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// nonceHeader is matched case-sensitively against each header line.
const nonceHeader = "Sec-WebSocket-Key:"

// MaxHeaderLines bounds the header block a client may send before the
// terminating blank line.
const MaxHeaderLines = 100

// MaxHeaderBytes bounds the total size of the header block, terminators
// included.
const MaxHeaderBytes = 16 << 10

var (
	// ErrMissingNonce is returned when the header block ends without a
	// Sec-WebSocket-Key line.
	ErrMissingNonce = errors.New("handshake: missing Sec-WebSocket-Key header")

	// ErrHeaderTooLarge is returned when the header block exceeds
	// MaxHeaderLines or MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("handshake: header block too large")
)

// IOError wraps a read or write failure on the underlying connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("handshake: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// AcceptToken derives the Sec-WebSocket-Accept value for a client nonce.
func AcceptToken(nonce string) string {
	sum := sha1.Sum([]byte(nonce + magicGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Response renders the exact upgrade response for the given accept token.
func Response(token string) string {
	return "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + token + "\r\n" +
		"\r\n"
}

// Negotiate reads the upgrade request header block from rw, writes the
// upgrade response and flushes it. It returns the client nonce it answered.
// The connection is left open on success and on failure; closing it is the
// caller's job.
func Negotiate(rw *bufio.ReadWriter) (string, error) {
	headers, err := readHeaderBlock(rw.Reader)
	if err != nil {
		return "", err
	}

	nonce, ok := findNonce(headers)
	if !ok {
		return "", ErrMissingNonce
	}

	if _, err := rw.WriteString(Response(AcceptToken(nonce))); err != nil {
		return "", &IOError{Op: "write", Err: err}
	}
	if err := rw.Flush(); err != nil {
		return "", &IOError{Op: "flush", Err: err}
	}
	return nonce, nil
}

// readHeaderBlock collects lines up to, not including, the first empty line.
func readHeaderBlock(r *bufio.Reader) ([]string, error) {
	var headers []string
	budget := MaxHeaderBytes
	for {
		line, err := readHeaderLine(r, &budget)
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}

		if len(headers) >= MaxHeaderLines {
			return nil, ErrHeaderTooLarge
		}
		headers = append(headers, line)
	}
}

// readHeaderLine reads one line, charging its length against budget.
func readHeaderLine(r *bufio.Reader, budget *int) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadSlice('\n')
		if len(chunk) > *budget {
			return "", ErrHeaderTooLarge
		}
		*budget -= len(chunk)
		sb.Write(chunk)

		switch {
		case err == nil:
			return sb.String(), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", &IOError{Op: "read", Err: err}
		}
	}
}

func findNonce(headers []string) (string, bool) {
	for _, h := range headers {
		if value, ok := strings.CutPrefix(h, nonceHeader); ok {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}
