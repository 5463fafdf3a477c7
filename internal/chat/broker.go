package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Fan-out scopes carried in relay envelopes.
const (
	ScopeRoom = "room"
	ScopeUser = "user"
)

// Envelope is a fan-out decision relayed between server instances after
// persistence succeeded on the origin. Peers re-deliver the payload to
// their own live connections; presence stays per-instance.
type Envelope struct {
	Origin      string          `json:"origin"`
	Scope       string          `json:"scope"`
	Room        string          `json:"room,omitempty"`
	UserID      int             `json:"userId,omitempty"`
	ExcludeUser int             `json:"excludeUser,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Broker relays fan-out envelopes to peer instances. A nil Broker on the
// router means single-instance mode.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
}

const relayChannel = "chat-events"

// RedisBroker relays envelopes over a Redis pub/sub channel shared by all
// instances. Each broker tags envelopes with its own id and skips them on
// the way back in.
type RedisBroker struct {
	id    string
	redis *redis.Client
	log   *slog.Logger
}

func NewRedisBroker(redisClient *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{id: uuid.NewString(), redis: redisClient, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	env.Origin = b.id
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, relayChannel, data).Err()
}

// Subscribe listens for envelopes from other instances and hands them to
// fn until the context is cancelled. Run it in its own goroutine.
func (b *RedisBroker) Subscribe(ctx context.Context, fn func(Envelope)) {
	pubsub := b.redis.Subscribe(ctx, relayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("bad relay envelope", "err", err)
				continue
			}
			if env.Origin == b.id {
				continue
			}
			fn(env)
		}
	}
}
