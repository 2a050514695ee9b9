// Package room holds the live room state: broadcast groups, room membership
// and the registry that maps room codes to rooms.
package room

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of pending messages a subscriber may hold
// before the oldest ones are dropped.
const DefaultCapacity = 8

var (
	// ErrNoSubscribers is returned by Publish when nobody is listening.
	ErrNoSubscribers = errors.New("room: broadcast group has no subscribers")

	// ErrSubscriptionClosed is returned when publishing through a closed
	// subscription.
	ErrSubscriptionClosed = errors.New("room: subscription closed")
)

// PeerID identifies one live connection. It is comparable and never reused.
type PeerID struct {
	ID   uuid.UUID `json:"id"`
	Addr string    `json:"addr"`
}

// NewPeerID mints an identity for a connection accepted from addr.
func NewPeerID(addr string) PeerID {
	return PeerID{ID: uuid.New(), Addr: addr}
}

func (p PeerID) String() string {
	return fmt.Sprintf("%s/%s", p.Addr, p.ID.String()[:8])
}

// Envelope is one broadcast message and the peer that sent it.
type Envelope struct {
	Payload string `json:"payload"`
	Origin  PeerID `json:"origin"`
}

// Group fans every published envelope out to all current subscribers,
// including the publisher. Each subscriber has a bounded queue; when it is
// full the oldest pending envelope is dropped and counted as lag.
type Group struct {
	mu       sync.Mutex
	capacity int
	subs     map[*Subscription]struct{}
	closed   bool
}

// NewGroup creates a group whose subscribers buffer up to capacity envelopes.
func NewGroup(capacity int) *Group {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Group{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Subscribe adds a subscriber that publishes as peer.
func (g *Group) Subscribe(peer PeerID) *Subscription {
	sub := &Subscription{
		group: g,
		peer:  peer,
		ch:    make(chan Envelope, g.capacity),
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	g.subs[sub] = struct{}{}
	return sub
}

// Publish delivers env to every subscriber without blocking and returns the
// number of subscribers it was queued for.
func (g *Group) Publish(env Envelope) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.subs) == 0 {
		return 0, ErrNoSubscribers
	}
	for sub := range g.subs {
		sub.enqueue(env)
	}
	return len(g.subs), nil
}

// Len returns the number of live subscribers.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close detaches every subscriber and closes their channels. Later
// subscriptions are born closed.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	for sub := range g.subs {
		sub.closed = true
		close(sub.ch)
		delete(g.subs, sub)
	}
}

func (g *Group) unsubscribe(sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	delete(g.subs, sub)
	close(sub.ch)
}

// Subscription is one member's handle on a Group: it receives everything
// published to the group and publishes under its own PeerID.
type Subscription struct {
	group  *Group
	peer   PeerID
	ch     chan Envelope
	lagged atomic.Uint64

	// closed is guarded by group.mu.
	closed bool
}

// C returns the channel envelopes arrive on. It is closed when the
// subscription or its group is closed.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Peer returns the identity this subscription publishes as.
func (s *Subscription) Peer() PeerID {
	return s.peer
}

// Publish sends payload to the group with this subscription as origin.
func (s *Subscription) Publish(payload string) (int, error) {
	s.group.mu.Lock()
	closed := s.closed
	s.group.mu.Unlock()
	if closed {
		return 0, ErrSubscriptionClosed
	}
	return s.group.Publish(Envelope{Payload: payload, Origin: s.peer})
}

// Lagged returns how many envelopes were dropped for this subscriber since
// the previous call, and resets the count.
func (s *Subscription) Lagged() uint64 {
	return s.lagged.Swap(0)
}

// Close detaches the subscription from its group. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.group.unsubscribe(s)
}

// enqueue must be called with group.mu held.
func (s *Subscription) enqueue(env Envelope) {
	select {
	case s.ch <- env:
		return
	default:
	}

	// Queue full: drop the oldest pending envelope to make room.
	select {
	case <-s.ch:
		s.lagged.Add(1)
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.lagged.Add(1)
	}
}
