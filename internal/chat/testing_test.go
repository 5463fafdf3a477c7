package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store with the same atomicity guarantees the
// real Postgres store provides: every mutation happens under one lock.
type fakeStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
	members  map[string]map[int]struct{}
	presence map[int]bool
	fail     map[string]error // op name → forced error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[uuid.UUID]*Message),
		members:  make(map[string]map[int]struct{}),
		presence: make(map[int]bool),
		fail:     make(map[string]error),
	}
}

func (s *fakeStore) failOn(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = errors.New("store unavailable")
}

func (s *fakeStore) AddRoomMember(_ context.Context, room string, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["AddRoomMember"]; err != nil {
		return err
	}
	set, ok := s.members[room]
	if !ok {
		set = make(map[int]struct{})
		s.members[room] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, room string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["RecentMessages"]; err != nil {
		return nil, err
	}
	var msgs []*Message
	for _, m := range s.messages {
		if m.Room == room && !m.Deleted {
			msgs = append(msgs, cloneMessage(m))
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *fakeStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["CreateMessage"]; err != nil {
		return err
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *fakeStore) FindMessage(_ context.Context, id uuid.UUID) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["FindMessage"]; err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *fakeStore) AppendReaction(_ context.Context, id uuid.UUID, r Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["AppendReaction"]; err != nil {
		return err
	}
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Reactions = append(m.Reactions, r)
	return nil
}

func (s *fakeStore) MarkRead(_ context.Context, id uuid.UUID, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	for _, u := range m.ReadBy {
		if u == userID {
			return nil
		}
	}
	m.ReadBy = append(m.ReadBy, userID)
	return nil
}

func (s *fakeStore) UpdateContent(_ context.Context, id uuid.UUID, content string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["UpdateContent"]; err != nil {
		return nil, err
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.Content = content
	m.Edited = true
	return cloneMessage(m), nil
}

func (s *fakeStore) SoftDelete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Deleted = true
	return nil
}

func (s *fakeStore) SetPresence(_ context.Context, userID int, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[userID] = online
	return nil
}

func (s *fakeStore) message(t *testing.T, id uuid.UUID) *Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	require.True(t, ok, "message %s not in store", id)
	return cloneMessage(m)
}

func (s *fakeStore) memberCount(room string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members[room])
}

func cloneMessage(m *Message) *Message {
	c := *m
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.ReadBy = append([]int(nil), m.ReadBy...)
	if m.To != nil {
		to := *m.To
		c.To = &to
	}
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	return &c
}

// fakeValidator resolves "token-<name>" credentials to fixed identities.
type fakeValidator struct {
	users map[string]Identity
}

func (v *fakeValidator) ValidateToken(token string) (int, string, error) {
	ident, ok := v.users[token]
	if !ok {
		return 0, "", errors.New("invalid token")
	}
	return ident.UserID, ident.Username, nil
}

// fakeBroker records published envelopes.
type fakeBroker struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (b *fakeBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes = append(b.envelopes, env)
	return nil
}

func (b *fakeBroker) published() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.envelopes...)
}

type rig struct {
	t          *testing.T
	registry   *Registry
	membership *Membership
	router     *Router
	store      *fakeStore
	validator  *fakeValidator
	conns      []*Client
}

func newRig(t *testing.T) *rig {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := newFakeStore()
	validator := &fakeValidator{users: map[string]Identity{
		"token-alice": {UserID: 1, Username: "alice"},
		"token-bob":   {UserID: 2, Username: "bob"},
		"token-carol": {UserID: 3, Username: "carol"},
		"token-dave":  {UserID: 4, Username: "dave"},
	}}
	registry := NewRegistry(log)
	membership := NewMembership()
	presence := NewPresence(registry, membership, log)
	router := NewRouter(registry, membership, presence, st, validator, 50, log)
	return &rig{t: t, registry: registry, membership: membership, router: router, store: st, validator: validator}
}

// connect admits a bare, unauthenticated connection.
func (g *rig) connect() *Client {
	c := &Client{id: uuid.NewString(), send: make(chan []byte, 256)}
	g.registry.Admit(c)
	g.conns = append(g.conns, c)
	return c
}

// authed connects and authenticates as token's user.
func (g *rig) authed(token string) *Client {
	c := g.connect()
	g.send(c, Inbound{Type: EvAuthenticate, Token: token})
	return c
}

// member connects, authenticates, and joins the given rooms.
func (g *rig) member(token string, rooms ...string) *Client {
	c := g.authed(token)
	for _, room := range rooms {
		g.send(c, Inbound{Type: EvJoinRoom, Room: room})
	}
	return c
}

func (g *rig) send(c *Client, in Inbound) {
	g.t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(g.t, err)
	g.router.Dispatch(context.Background(), c, raw)
}

func (g *rig) disconnect(c *Client) {
	g.router.Disconnect(context.Background(), c)
}

// drainAll empties every connection's outbound buffer, discarding the
// setup chatter so assertions start clean.
func (g *rig) drainAll() {
	for _, c := range g.conns {
		drain(c)
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func recv(t *testing.T, c *Client) Outbound {
	t.Helper()
	select {
	case raw := <-c.send:
		var out Outbound
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an event")
		return Outbound{}
	}
}

// recvUntil pops frames until one of the wanted type arrives, discarding
// setup chatter like presence updates along the way.
func recvUntil(t *testing.T, c *Client, evType string) Outbound {
	t.Helper()
	for i := 0; i < 16; i++ {
		out := recv(t, c)
		if out.Type == evType {
			return out
		}
	}
	t.Fatalf("no %s event within 16 frames", evType)
	return Outbound{}
}

func noEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected event: %s", raw)
	default:
	}
}

func seedMessage(t *testing.T, st *fakeStore, room, content string, from Identity, at time.Time) uuid.UUID {
	t.Helper()
	msg := &Message{
		ID:        uuid.New(),
		Room:      room,
		From:      from.Ref(),
		Content:   content,
		Reactions: []Reaction{},
		ReadBy:    []int{},
		CreatedAt: at,
	}
	require.NoError(t, st.CreateMessage(context.Background(), msg))
	return msg.ID
}
