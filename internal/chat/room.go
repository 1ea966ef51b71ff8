package chat

import "sync"

// RoomRegistry maps live connections to the tribe rooms they have joined.
// It is a plain data structure owned by the Hub, so tests can construct one
// and assert membership without a network.
//
// Known limitation: join is not checked against tribe membership here. The
// transport controls delivery scope only; the REST gateway is the access
// boundary for content. A stricter design would re-run the membership query
// at join time.
type RoomRegistry struct {
	mu          sync.RWMutex
	rooms       map[int]map[*Client]struct{}
	memberships map[*Client]map[int]struct{}
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms:       make(map[int]map[*Client]struct{}),
		memberships: make(map[*Client]map[int]struct{}),
	}
}

func (r *RoomRegistry) Join(c *Client, tribeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[tribeID] == nil {
		r.rooms[tribeID] = make(map[*Client]struct{})
	}
	r.rooms[tribeID][c] = struct{}{}

	if r.memberships[c] == nil {
		r.memberships[c] = make(map[int]struct{})
	}
	r.memberships[c][tribeID] = struct{}{}
}

func (r *RoomRegistry) Leave(c *Client, tribeID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c, tribeID)
}

// Drop removes the connection from every room it was a member of. Called on
// disconnect; the state is not recoverable, a reconnecting client redoes the
// handshake and re-joins.
func (r *RoomRegistry) Drop(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for tribeID := range r.memberships[c] {
		r.removeLocked(c, tribeID)
	}
	delete(r.memberships, c)
}

func (r *RoomRegistry) removeLocked(c *Client, tribeID int) {
	if room, ok := r.rooms[tribeID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, tribeID)
		}
	}
	if rooms, ok := r.memberships[c]; ok {
		delete(rooms, tribeID)
	}
}

// Members snapshots the connections currently joined to a room. Every one of
// them receives a published event, the sender's own other tabs included.
func (r *RoomRegistry) Members(tribeID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.rooms[tribeID]))
	for c := range r.rooms[tribeID] {
		members = append(members, c)
	}
	return members
}

// Rooms returns the tribe ids the connection has joined.
func (r *RoomRegistry) Rooms(c *Client) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]int, 0, len(r.memberships[c]))
	for tribeID := range r.memberships[c] {
		rooms = append(rooms, tribeID)
	}
	return rooms
}
