package chat

import (
	"sync"

	"github.com/samber/lo"
)

// Membership is the live room→connections index. It is a pure projection:
// it starts empty on process restart and is distinct from the durable
// membership records in the store. Leaving a live channel does not revoke
// durable membership.
type Membership struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	joined map[*Client]map[string]struct{}
}

func NewMembership() *Membership {
	return &Membership{
		rooms:  make(map[string]map[*Client]struct{}),
		joined: make(map[*Client]map[string]struct{}),
	}
}

// Join subscribes a connection to a room channel. Joining twice is a
// no-op; the return value reports whether the subscription is new.
func (m *Membership) Join(c *Client, room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.rooms[room]
	if !ok {
		subs = make(map[*Client]struct{})
		m.rooms[room] = subs
	}
	if _, dup := subs[c]; dup {
		return false
	}
	subs[c] = struct{}{}

	set, ok := m.joined[c]
	if !ok {
		set = make(map[string]struct{})
		m.joined[c] = set
	}
	set[room] = struct{}{}
	return true
}

// Leave removes a connection from one room channel.
func (m *Membership) Leave(c *Client, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c, room)
}

// LeaveAll removes a connection from every room it had joined and
// returns those rooms.
func (m *Membership) LeaveAll(c *Client) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := lo.Keys(m.joined[c])
	for _, room := range rooms {
		m.leaveLocked(c, room)
	}
	return rooms
}

func (m *Membership) leaveLocked(c *Client, room string) {
	if subs, ok := m.rooms[room]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(m.rooms, room)
		}
	}
	if set, ok := m.joined[c]; ok {
		delete(set, room)
		if len(set) == 0 {
			delete(m.joined, c)
		}
	}
}

// SubscribersOf returns the live connections currently subscribed to a
// room. This is the fan-out target set; it never includes connections
// that merely hold durable membership.
func (m *Membership) SubscribersOf(room string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.rooms[room])
}

// RoomsOf returns the rooms a connection is live in.
func (m *Membership) RoomsOf(c *Client) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Keys(m.joined[c])
}
