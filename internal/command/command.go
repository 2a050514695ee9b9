// Package command parses the room command line a client sends right after
// the upgrade handshake.
package command

import (
	"errors"
	"strings"
)

const (
	// DefaultPrefix is the namespace every command line starts with.
	DefaultPrefix = "dd::core"

	// DefaultCodeLength is the length of a room code.
	DefaultCodeLength = 8

	separator = "::"

	newRoomToken  = "NEW_ROOM"
	joinRoomToken = "JOIN_ROOM"
	roomAckToken  = "ROOM"
)

var (
	// ErrInvalidCommand is returned for lines that are neither a create nor a
	// join command.
	ErrInvalidCommand = errors.New("command: invalid room command")

	// ErrInvalidRoomCode is returned when a join carries a malformed code.
	ErrInvalidRoomCode = errors.New("command: invalid room code")
)

// Intent is what a client asked for. It is either CreateRoom or JoinRoom.
type Intent interface {
	intent()
}

// CreateRoom asks the server to open a room under a freshly generated code.
type CreateRoom struct{}

// JoinRoom asks to join the room addressed by Code (already lowercased).
type JoinRoom struct {
	Code string
}

func (CreateRoom) intent() {}
func (JoinRoom) intent()   {}

// Parser recognises command lines for one prefix and code length.
type Parser struct {
	Prefix     string
	CodeLength int
}

// NewParser returns a Parser, falling back to the defaults for empty values.
func NewParser(prefix string, codeLength int) Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if codeLength <= 0 {
		codeLength = DefaultCodeLength
	}
	return Parser{Prefix: prefix, CodeLength: codeLength}
}

// Matches reports whether line carries the command prefix. Lines that do not
// are treated as keepalive noise by the session.
func (p Parser) Matches(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), p.Prefix+separator)
}

// Parse turns a command line into an Intent.
func (p Parser) Parse(line string) (Intent, error) {
	line = strings.TrimSpace(line)
	if !p.Matches(line) {
		return nil, ErrInvalidCommand
	}

	parts := strings.Split(line, separator)
	offset := len(strings.Split(p.Prefix, separator))
	if len(parts) <= offset {
		return nil, ErrInvalidCommand
	}

	switch strings.ToUpper(parts[offset]) {
	case newRoomToken:
		return CreateRoom{}, nil
	case joinRoomToken:
		var code string
		if len(parts) > offset+1 {
			code = strings.ToLower(parts[offset+1])
		}
		if !p.validCode(code) {
			return nil, ErrInvalidRoomCode
		}
		return JoinRoom{Code: code}, nil
	default:
		return nil, ErrInvalidCommand
	}
}

// Ack renders the line the server sends once a client is in a room.
func (p Parser) Ack(code string) string {
	return p.Prefix + separator + roomAckToken + separator + code
}

// ParseAck extracts the room code from an acknowledgement line.
func (p Parser) ParseAck(line string) (string, bool) {
	code, ok := strings.CutPrefix(strings.TrimSpace(line), p.Prefix+separator+roomAckToken+separator)
	if !ok || !p.validCode(code) {
		return "", false
	}
	return code, true
}

// Create renders a create command line.
func (p Parser) Create() string {
	return p.Prefix + separator + newRoomToken
}

// Join renders a join command line.
func (p Parser) Join(code string) string {
	return p.Prefix + separator + joinRoomToken + separator + code
}

func (p Parser) validCode(code string) bool {
	if len(code) != p.CodeLength {
		return false
	}
	for _, r := range code {
		if !isAlphanumeric(r) {
			return false
		}
	}
	return true
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
