package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		msg  string
		want []string
	}{
		{msg: "hello", want: []string{"hello"}},
		{msg: "", want: []string{""}},
		{msg: "one\ntwo", want: []string{"one", "two"}},
		{msg: "one\ntwo\n", want: []string{"one", "two"}},
		{msg: "\n", want: []string{""}},
		{msg: "a\n\nb", want: []string{"a", "", "b"}},
		{msg: "keep\r", want: []string{"keep\r"}},
	}

	for _, tt := range tests {
		got := splitLines(tt.msg)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitLines(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

// TestWebSocketConnFramesLikeRawStream checks that a message with embedded
// newlines comes out as separate lines, in order, before the next message.
func TestWebSocketConnFramesLikeRawStream(t *testing.T) {
	lines := make(chan string, 16)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewWebSocketConn(ws, 1024)
		defer conn.Close()
		for {
			line, err := conn.ReadLine()
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	for _, msg := range []string{"one\ntwo\n", "three"} {
		if err := client.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case got := <-lines:
			if got != want {
				t.Fatalf("line = %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
