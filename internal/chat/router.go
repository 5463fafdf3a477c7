package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRoom = "general"
	maxFileSize = 5 << 20 // declared attachment size cap, 5 MiB
)

var allowedFileTypes = []string{"image/", "video/", "application/"}

// Router is the chat event state machine. Each inbound event is validated,
// persisted, and only then fanned out; a persistence failure surfaces an
// error to the originating connection and nothing is broadcast, so clients
// never see state they could not fetch back on reconnect.
//
// Dispatch is called from each connection's read loop, so events from one
// connection are handled in order while different connections proceed in
// parallel. The registry and membership index do their own short-lived
// locking; the router holds no lock across store calls.
type Router struct {
	registry     *Registry
	membership   *Membership
	presence     *Presence
	store        Store
	validator    TokenValidator
	broker       Broker // nil in single-instance mode
	historyLimit int
	log          *slog.Logger
}

func NewRouter(registry *Registry, membership *Membership, presence *Presence,
	store Store, validator TokenValidator, historyLimit int, log *slog.Logger) *Router {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Router{
		registry:     registry,
		membership:   membership,
		presence:     presence,
		store:        store,
		validator:    validator,
		historyLimit: historyLimit,
		log:          log,
	}
}

// SetBroker attaches a cross-instance relay. Optional.
func (r *Router) SetBroker(b Broker) { r.broker = b }

// Dispatch routes one raw inbound frame from a connection.
func (r *Router) Dispatch(ctx context.Context, c *Client, raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		r.sendError(c, CodeBadRequest, "malformed event")
		return
	}

	if in.Type == EvAuthenticate {
		r.handleAuthenticate(ctx, c, in)
		return
	}

	// Everything below is room- or message-scoped and requires an
	// authenticated connection.
	ident, ok := r.registry.IdentityOf(c)
	if !ok {
		r.sendError(c, CodeUnauthenticated, "authenticate before sending events")
		return
	}

	switch in.Type {
	case EvJoinRoom:
		r.handleJoin(ctx, c, ident, in)
	case EvLeaveRoom:
		r.membership.Leave(c, roomOrDefault(in.Room))
	case EvChatMessage:
		r.handleChat(ctx, c, ident, in)
	case EvDirectMessage:
		r.handleDirect(ctx, c, ident, in)
	case EvReaction:
		r.handleReaction(ctx, c, ident, in)
	case EvReadMessage:
		r.handleRead(ctx, c, ident, in)
	case EvEditMessage:
		r.handleEdit(ctx, c, ident, in)
	case EvDeleteMessage:
		r.handleDelete(ctx, c, ident, in)
	case EvTyping, EvStopTyping:
		r.handleTyping(c, ident, in)
	default:
		r.sendError(c, CodeBadRequest, "unknown event type")
	}
}

// Disconnect tears a connection down: it leaves every live room, drops
// the registry binding, and, if that was the user's last connection,
// records them offline and announces the departure to the rooms they
// were in.
func (r *Router) Disconnect(ctx context.Context, c *Client) {
	rooms := r.membership.LeaveAll(c)
	ident, wasAuthed, wentOffline := r.registry.Drop(c)
	if !wasAuthed || !wentOffline {
		return
	}
	if err := r.store.SetPresence(ctx, ident.UserID, false, time.Now().UTC()); err != nil {
		r.log.Warn("presence update failed", "userId", ident.UserID, "err", err)
	}
	r.presence.UserOffline(ident, rooms)
}

func (r *Router) handleAuthenticate(ctx context.Context, c *Client, in Inbound) {
	userID, username, err := r.validator.ValidateToken(in.Token)
	if err != nil {
		// Reported, not fatal: the connection stays admitted and may retry.
		deliver([]*Client{c}, Outbound{Type: EvAuthError, Reason: "invalid token"})
		return
	}

	ident := Identity{UserID: userID, Username: username}
	cameOnline := r.registry.Bind(c, ident)
	if err := r.store.SetPresence(ctx, userID, true, time.Now().UTC()); err != nil {
		r.log.Warn("presence update failed", "userId", userID, "err", err)
	}

	ref := ident.Ref()
	deliver([]*Client{c}, Outbound{Type: EvAuthOK, User: &ref})
	if cameOnline {
		r.presence.UserOnline(ident)
	}
}

func (r *Router) handleJoin(ctx context.Context, c *Client, ident Identity, in Inbound) {
	room := roomOrDefault(in.Room)

	// Durable membership first; the live subscription is just a projection.
	if err := r.store.AddRoomMember(ctx, room, ident.UserID); err != nil {
		r.sendError(c, CodePersistence, "could not join room")
		return
	}
	r.membership.Join(c, room)

	msgs, err := r.store.RecentMessages(ctx, room, r.historyLimit)
	if err != nil {
		r.sendError(c, CodePersistence, "could not load history")
		return
	}
	deliver([]*Client{c}, Outbound{Type: EvRoomHistory, Room: room, Messages: msgs})
}

func (r *Router) handleChat(ctx context.Context, c *Client, ident Identity, in Inbound) {
	room := roomOrDefault(in.Room)

	var file *FileMeta
	if in.File != nil {
		if !fileAllowed(in.File) {
			deliver([]*Client{c}, Outbound{Type: EvFileError, Reason: "invalid file"})
			return
		}
		file = &FileMeta{Name: in.File.Name, Type: in.File.Type, URL: in.File.URL}
	}

	msg := &Message{
		ID:        uuid.New(),
		Room:      room,
		From:      ident.Ref(),
		Content:   in.Content,
		File:      file,
		Reactions: []Reaction{},
		ReadBy:    []int{},
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		r.sendError(c, CodePersistence, "could not save message")
		return
	}

	out := Outbound{Type: EvChatMessage, Message: msg}
	deliver(r.membership.SubscribersOf(room), out)
	r.relay(ctx, Envelope{Scope: ScopeRoom, Room: room}, out)
}

func (r *Router) handleDirect(ctx context.Context, c *Client, ident Identity, in Inbound) {
	if in.ToUserID == 0 {
		r.sendError(c, CodeBadRequest, "missing recipient")
		return
	}

	msg := &Message{
		ID:        uuid.New(),
		From:      ident.Ref(),
		To:        &UserRef{UserID: in.ToUserID},
		Content:   in.Content,
		Reactions: []Reaction{},
		ReadBy:    []int{},
		CreatedAt: time.Now().UTC(),
	}
	// Persist regardless of recipient liveness; an offline recipient picks
	// the message up through the history path later. Not an error.
	if err := r.store.CreateMessage(ctx, msg); err != nil {
		r.sendError(c, CodePersistence, "could not save message")
		return
	}

	out := Outbound{Type: EvDirectMessage, Message: msg}
	deliver(r.dmTargets(msg), out)
	r.relay(ctx, Envelope{Scope: ScopeUser, UserID: in.ToUserID}, out)
	if in.ToUserID != ident.UserID {
		r.relay(ctx, Envelope{Scope: ScopeUser, UserID: ident.UserID}, out)
	}
}

func (r *Router) handleReaction(ctx context.Context, c *Client, ident Identity, in Inbound) {
	id, ok := r.messageID(c, in)
	if !ok {
		return
	}
	msg, ok := r.findMessage(ctx, c, id)
	if !ok {
		return
	}

	// The store append is atomic; concurrent reactors never lose updates.
	if err := r.store.AppendReaction(ctx, id, Reaction{UserID: ident.UserID, Reaction: in.Reaction}); err != nil {
		r.storeError(c, err, "could not save reaction")
		return
	}

	ref := ident.Ref()
	out := Outbound{Type: EvReaction, User: &ref, MessageID: id.String(), Reaction: in.Reaction}
	r.fanoutForMessage(ctx, msg, out)
}

func (r *Router) handleRead(ctx context.Context, c *Client, ident Identity, in Inbound) {
	id, ok := r.messageID(c, in)
	if !ok {
		return
	}
	msg, ok := r.findMessage(ctx, c, id)
	if !ok {
		return
	}

	if err := r.store.MarkRead(ctx, id, ident.UserID); err != nil {
		r.storeError(c, err, "could not mark read")
		return
	}

	out := Outbound{Type: EvReadReceipt, MessageID: id.String(), UserID: ident.UserID}
	r.fanoutForMessage(ctx, msg, out)
}

func (r *Router) handleEdit(ctx context.Context, c *Client, ident Identity, in Inbound) {
	id, ok := r.messageID(c, in)
	if !ok {
		return
	}
	msg, ok := r.findMessage(ctx, c, id)
	if !ok {
		return
	}
	if msg.From.UserID != ident.UserID {
		r.sendError(c, CodeUnauthorized, "only the sender can edit a message")
		return
	}

	// UpdateContent returns the row as persisted; the fan-out carries that,
	// not the locally computed content, so racing edits stay consistent.
	updated, err := r.store.UpdateContent(ctx, id, in.NewContent)
	if err != nil {
		r.storeError(c, err, "could not edit message")
		return
	}

	out := Outbound{Type: EvEditMessage, Message: updated}
	r.fanoutForMessage(ctx, updated, out)
}

func (r *Router) handleDelete(ctx context.Context, c *Client, ident Identity, in Inbound) {
	id, ok := r.messageID(c, in)
	if !ok {
		return
	}
	msg, ok := r.findMessage(ctx, c, id)
	if !ok {
		return
	}
	if msg.From.UserID != ident.UserID {
		r.sendError(c, CodeUnauthorized, "only the sender can delete a message")
		return
	}

	if err := r.store.SoftDelete(ctx, id); err != nil {
		r.storeError(c, err, "could not delete message")
		return
	}

	out := Outbound{Type: EvDeleteMessage, MessageID: id.String()}
	r.fanoutForMessage(ctx, msg, out)
}

func (r *Router) handleTyping(c *Client, ident Identity, in Inbound) {
	room := roomOrDefault(in.Room)
	ref := ident.Ref()
	out := Outbound{Type: in.Type, User: &ref, Room: room}

	// Never echoed back to the typist, on any of their devices. The
	// relayed envelope excludes by user id, so the local pass must too.
	subs := r.membership.SubscribersOf(room)
	targets := subs[:0:0]
	for _, sub := range subs {
		if subIdent, ok := r.registry.IdentityOf(sub); ok && subIdent.UserID == ident.UserID {
			continue
		}
		targets = append(targets, sub)
	}
	deliver(targets, out)
	r.relay(context.Background(), Envelope{Scope: ScopeRoom, Room: room, ExcludeUser: ident.UserID}, out)
}

// DeliverRemote applies a fan-out envelope relayed from a peer instance
// to this instance's live connections.
func (r *Router) DeliverRemote(env Envelope) {
	var targets []*Client
	switch env.Scope {
	case ScopeRoom:
		targets = r.membership.SubscribersOf(env.Room)
	case ScopeUser:
		targets = r.registry.ConnsOf(env.UserID)
	default:
		return
	}
	if env.ExcludeUser != 0 {
		filtered := targets[:0:0]
		for _, c := range targets {
			if ident, ok := r.registry.IdentityOf(c); !ok || ident.UserID != env.ExcludeUser {
				filtered = append(filtered, c)
			}
		}
		targets = filtered
	}
	deliverRaw(targets, env.Payload)
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

// fanoutForMessage addresses an event about an existing message to the
// connections that can see that message: the room's live subscribers, or
// for a direct message the two endpoints' connections. Never process-wide.
func (r *Router) fanoutForMessage(ctx context.Context, msg *Message, out Outbound) {
	if msg.Room != "" {
		deliver(r.membership.SubscribersOf(msg.Room), out)
		r.relay(ctx, Envelope{Scope: ScopeRoom, Room: msg.Room}, out)
		return
	}
	deliver(r.dmTargets(msg), out)
	r.relay(ctx, Envelope{Scope: ScopeUser, UserID: msg.From.UserID}, out)
	if msg.To != nil && msg.To.UserID != msg.From.UserID {
		r.relay(ctx, Envelope{Scope: ScopeUser, UserID: msg.To.UserID}, out)
	}
}

// dmTargets is every live connection of both DM endpoints, so each device
// of the sender and recipient renders the message.
func (r *Router) dmTargets(msg *Message) []*Client {
	targets := r.registry.ConnsOf(msg.From.UserID)
	if msg.To != nil && msg.To.UserID != msg.From.UserID {
		targets = append(targets, r.registry.ConnsOf(msg.To.UserID)...)
	}
	return targets
}

func (r *Router) relay(ctx context.Context, env Envelope, out Outbound) {
	if r.broker == nil {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	env.Payload = payload
	if err := r.broker.Publish(ctx, env); err != nil {
		r.log.Warn("relay publish failed", "err", err)
	}
}

func (r *Router) messageID(c *Client, in Inbound) (uuid.UUID, bool) {
	id, err := uuid.Parse(in.MessageID)
	if err != nil {
		r.sendError(c, CodeBadRequest, "invalid message id")
		return uuid.UUID{}, false
	}
	return id, true
}

func (r *Router) findMessage(ctx context.Context, c *Client, id uuid.UUID) (*Message, bool) {
	msg, err := r.store.FindMessage(ctx, id)
	if err != nil {
		r.storeError(c, err, "could not load message")
		return nil, false
	}
	return msg, true
}

func (r *Router) storeError(c *Client, err error, reason string) {
	if errors.Is(err, ErrNotFound) {
		r.sendError(c, CodeNotFound, "no such message")
		return
	}
	r.log.Error("store operation failed", "err", err)
	r.sendError(c, CodePersistence, reason)
}

func (r *Router) sendError(c *Client, code, reason string) {
	deliver([]*Client{c}, Outbound{Type: EvError, Code: code, Reason: reason})
}

func roomOrDefault(room string) string {
	if room == "" {
		return defaultRoom
	}
	return room
}

func fileAllowed(f *FilePayload) bool {
	if f.Size > maxFileSize {
		return false
	}
	for _, prefix := range allowedFileTypes {
		if strings.HasPrefix(f.Type, prefix) {
			return true
		}
	}
	return false
}
