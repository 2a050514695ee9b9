package room

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/Tyrowin/roomrelay/internal/metrics"
)

// maxCodeAttempts bounds how many generated codes Create tries before
// giving up on finding a free one.
const maxCodeAttempts = 32

// ErrNoFreeCode is returned by Create when every drawn code was taken.
var ErrNoFreeCode = errors.New("room: could not find a free room code")

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// Registry maps room codes to live rooms. A code is present in the map if
// and only if at least one peer belongs to its room. The lock is held only
// while the map or a member set is being changed, never across network I/O.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	capacity int
	log      *slog.Logger
}

// NewRegistry creates an empty registry whose rooms buffer capacity pending
// messages per subscriber.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rooms:    make(map[string]*Room),
		capacity: capacity,
		log:      logger,
	}
}

// GetOrCreate returns the room for code, creating an empty one if needed.
// An empty room created here is removed by the first RemoveIfEmpty that
// finds it empty, so callers should prefer Join.
func (r *Registry) GetOrCreate(code string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(normalize(code))
}

// Join adds peer to the room for code, creating the room if it does not
// exist, and returns the peer's subscription. Lookup and membership change
// happen in one critical section so a concurrent last leave cannot delete
// the room in between.
func (r *Registry) Join(code string, peer PeerID) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getOrCreateLocked(normalize(code))
	sub := rm.Join(peer)
	r.log.Debug("room.joined", "room", rm.code, "peer", peer.String(), "members", rm.Len())
	return sub
}

// Create draws codes from gen until one is not live, then creates that room
// with peer as its first member.
func (r *Registry) Create(gen func() string, peer PeerID) (string, *Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < maxCodeAttempts; i++ {
		code := normalize(gen())
		if _, taken := r.rooms[code]; taken {
			continue
		}
		rm := r.getOrCreateLocked(code)
		return code, rm.Join(peer), nil
	}
	return "", nil, ErrNoFreeCode
}

// RemoveIfEmpty removes peer from the room for code and deletes the room if
// peer was its last member. It reports whether the room was deleted.
// Unknown codes are ignored.
func (r *Registry) RemoveIfEmpty(code string, peer PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	code = normalize(code)
	rm, ok := r.rooms[code]
	if !ok {
		return false
	}

	if remaining := rm.Leave(peer); remaining > 0 {
		r.log.Debug("room.left", "room", code, "peer", peer.String(), "members", remaining)
		return false
	}

	delete(r.rooms, code)
	rm.group.Close()
	metrics.RoomsActive.Dec()
	r.log.Info("room.closed", "room", code)
	return true
}

// Deliver publishes env into the live room for code. It is used for
// messages that originate on another relay instance and never creates a
// room. It reports whether any local subscriber received the envelope.
func (r *Registry) Deliver(code string, env Envelope) bool {
	r.mu.Lock()
	rm, ok := r.rooms[normalize(code)]
	var group *Group
	if ok {
		group = rm.group
	}
	r.mu.Unlock()

	if group == nil {
		return false
	}
	n, err := group.Publish(env)
	return err == nil && n > 0
}

// Contains reports whether code currently denotes a live room.
func (r *Registry) Contains(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[normalize(code)]
	return ok
}

// Members returns the member count of the room for code, or 0.
func (r *Registry) Members(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[normalize(code)]; ok {
		return rm.Len()
	}
	return 0
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Stats returns the number of rooms and the total membership.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Rooms: len(r.rooms)}
	for _, rm := range r.rooms {
		stats.Members += rm.Len()
	}
	return stats
}

func (r *Registry) getOrCreateLocked(code string) *Room {
	if rm, ok := r.rooms[code]; ok {
		return rm
	}
	rm := newRoom(code, r.capacity)
	r.rooms[code] = rm
	metrics.RoomsActive.Inc()
	r.log.Info("room.created", "room", code)
	return rm
}

func normalize(code string) string {
	return strings.ToLower(code)
}
