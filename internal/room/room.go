package room

// Room is a broadcast group plus the set of peers that currently belong to
// it. A Room has no lock of its own: every access goes through the Registry
// that owns it, under the registry lock.
type Room struct {
	code    string
	group   *Group
	members map[PeerID]struct{}
}

func newRoom(code string, capacity int) *Room {
	return &Room{
		code:    code,
		group:   NewGroup(capacity),
		members: make(map[PeerID]struct{}),
	}
}

// Code returns the room's registry key.
func (r *Room) Code() string {
	return r.code
}

// Join records peer as a member and returns its subscription to the room's
// broadcast group.
func (r *Room) Join(peer PeerID) *Subscription {
	r.members[peer] = struct{}{}
	return r.group.Subscribe(peer)
}

// Leave removes peer and returns how many members remain.
func (r *Room) Leave(peer PeerID) int {
	delete(r.members, peer)
	return len(r.members)
}

// Len returns the current member count.
func (r *Room) Len() int {
	return len(r.members)
}

// Has reports whether peer is a member.
func (r *Room) Has(peer PeerID) bool {
	_, ok := r.members[peer]
	return ok
}
