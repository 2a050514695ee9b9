package room

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func expectEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case env := <-sub.C():
		t.Fatalf("expected no envelope, got %+v", env)
	default:
	}
}

func TestGroupPublishReachesEverySubscriber(t *testing.T) {
	g := NewGroup(DefaultCapacity)
	a := g.Subscribe(NewPeerID("a"))
	b := g.Subscribe(NewPeerID("b"))

	n, err := a.Publish("hello")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Publish() reached %d subscribers, want 2", n)
	}

	got := receive(t, b)
	if got.Payload != "hello" || got.Origin != a.Peer() {
		t.Errorf("b received %+v", got)
	}

	// The publisher hears its own envelope; filtering is the session's job.
	if self := receive(t, a); self.Origin != a.Peer() {
		t.Errorf("a received %+v", self)
	}
}

func TestGroupPublishWithoutSubscribers(t *testing.T) {
	g := NewGroup(DefaultCapacity)
	if _, err := g.Publish(Envelope{Payload: "x"}); !errors.Is(err, ErrNoSubscribers) {
		t.Errorf("Publish() error = %v, want ErrNoSubscribers", err)
	}
}

func TestGroupPreservesPublisherOrder(t *testing.T) {
	g := NewGroup(64)
	a := g.Subscribe(NewPeerID("a"))
	b := g.Subscribe(NewPeerID("b"))

	for i := 0; i < 50; i++ {
		if _, err := a.Publish(fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for i := 0; i < 50; i++ {
		if got := receive(t, b); got.Payload != fmt.Sprintf("m%d", i) {
			t.Fatalf("message %d = %q", i, got.Payload)
		}
	}
}

func TestGroupDropsOldestWhenSubscriberLags(t *testing.T) {
	g := NewGroup(8)
	slow := g.Subscribe(NewPeerID("slow"))
	pub := g.Subscribe(NewPeerID("pub"))

	for i := 0; i < 12; i++ {
		if _, err := pub.Publish(fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	if lagged := slow.Lagged(); lagged != 4 {
		t.Errorf("Lagged() = %d, want 4", lagged)
	}
	if lagged := slow.Lagged(); lagged != 0 {
		t.Errorf("Lagged() after reset = %d, want 0", lagged)
	}

	// The newest eight survive, still in order.
	for i := 4; i < 12; i++ {
		if got := receive(t, slow); got.Payload != fmt.Sprintf("m%d", i) {
			t.Fatalf("got %q, want m%d", got.Payload, i)
		}
	}
	expectEmpty(t, slow)
}

func TestSubscriptionClose(t *testing.T) {
	g := NewGroup(DefaultCapacity)
	a := g.Subscribe(NewPeerID("a"))
	b := g.Subscribe(NewPeerID("b"))

	a.Close()
	a.Close()

	if _, ok := <-a.C(); ok {
		t.Error("closed subscription channel still open")
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
	if _, err := a.Publish("late"); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Publish() on closed subscription error = %v", err)
	}

	b.Close()
	if _, err := g.Publish(Envelope{Payload: "x"}); !errors.Is(err, ErrNoSubscribers) {
		t.Errorf("Publish() error = %v, want ErrNoSubscribers", err)
	}
}

func TestGroupClose(t *testing.T) {
	g := NewGroup(DefaultCapacity)
	a := g.Subscribe(NewPeerID("a"))

	g.Close()
	if _, ok := <-a.C(); ok {
		t.Error("subscriber channel should be closed with its group")
	}
	a.Close()

	late := g.Subscribe(NewPeerID("late"))
	if _, ok := <-late.C(); ok {
		t.Error("subscription to a closed group should be closed")
	}
}

func TestPeerIDsAreUnique(t *testing.T) {
	a := NewPeerID("127.0.0.1:1000")
	b := NewPeerID("127.0.0.1:1000")
	if a == b {
		t.Error("two peers from the same address must differ")
	}
	if a.String() == b.String() {
		t.Errorf("String() should tell peers apart: %s", a)
	}
}
