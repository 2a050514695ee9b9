package bus

import (
	"testing"

	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/room"
)

type recordingDeliverer struct {
	codes []string
	envs  []room.Envelope
}

func (d *recordingDeliverer) Deliver(code string, env room.Envelope) bool {
	d.codes = append(d.codes, code)
	d.envs = append(d.envs, env)
	return true
}

func newTestBus(instance string) *RedisBus {
	return &RedisBus{instance: instance, log: logging.Discard()}
}

func TestHandleDeliversForeignMessages(t *testing.T) {
	origin := room.NewPeerID("10.0.0.1:5000")
	sender := newTestBus("instance-a")
	raw, err := sender.encode("abcd1234", room.Envelope{Payload: "hi there", Origin: origin})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := &recordingDeliverer{}
	if !newTestBus("instance-b").handle(d, raw) {
		t.Fatal("foreign message was not delivered")
	}
	if len(d.envs) != 1 || d.codes[0] != "abcd1234" {
		t.Fatalf("delivered %v", d.codes)
	}
	if d.envs[0].Payload != "hi there" || d.envs[0].Origin != origin {
		t.Errorf("envelope = %+v", d.envs[0])
	}
}

func TestHandleIgnoresOwnInstance(t *testing.T) {
	b := newTestBus("instance-a")
	raw, err := b.encode("abcd1234", room.Envelope{Payload: "echo"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := &recordingDeliverer{}
	if b.handle(d, raw) || len(d.envs) != 0 {
		t.Error("own message was delivered again")
	}
}

func TestHandleRejectsMalformedMessages(t *testing.T) {
	b := newTestBus("instance-a")
	for _, raw := range []string{"not json", `{"instance":"x","payload":"p"}`} {
		d := &recordingDeliverer{}
		if b.handle(d, []byte(raw)) || len(d.envs) != 0 {
			t.Errorf("delivered malformed message %q", raw)
		}
	}
}

func TestHandleIntoRegistry(t *testing.T) {
	registry := room.NewRegistry(room.DefaultCapacity, logging.Discard())
	local := room.NewPeerID("127.0.0.1:1")
	sub := registry.Join("abcd1234", local)
	defer sub.Close()

	raw, _ := newTestBus("remote").encode("abcd1234", room.Envelope{Payload: "from afar", Origin: room.NewPeerID("10.0.0.2:1")})
	if !newTestBus("local").handle(registry, raw) {
		t.Fatal("not delivered into live room")
	}
	if env := <-sub.C(); env.Payload != "from afar" {
		t.Errorf("payload = %q", env.Payload)
	}

	raw, _ = newTestBus("remote").encode("zzzz9999", room.Envelope{Payload: "nobody"})
	if newTestBus("local").handle(registry, raw) {
		t.Error("bus created or reached a room that is not live")
	}
	if registry.Contains("zzzz9999") {
		t.Error("bus created a room")
	}
}

func TestChannel(t *testing.T) {
	if got := channel("abcd1234"); got != "room:abcd1234" {
		t.Errorf("channel = %q", got)
	}
}
