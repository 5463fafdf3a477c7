package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelayPublishesRoomScopedEnvelope(t *testing.T) {
	req := require.New(t)
	g := newRig(t)
	broker := &fakeBroker{}
	g.router.SetBroker(broker)

	alice := g.member("token-alice", "general")
	g.drainAll()

	g.send(alice, Inbound{Type: EvChatMessage, Room: "general", Content: "hi"})

	envs := broker.published()
	req.Len(envs, 1)
	req.Equal(ScopeRoom, envs[0].Scope)
	req.Equal("general", envs[0].Room)

	var out Outbound
	req.NoError(json.Unmarshal(envs[0].Payload, &out))
	req.Equal(EvChatMessage, out.Type)
	req.Equal("hi", out.Message.Content)
}

func TestRelayPublishesUserScopedEnvelopesForDirectMessages(t *testing.T) {
	req := require.New(t)
	g := newRig(t)
	broker := &fakeBroker{}
	g.router.SetBroker(broker)

	alice := g.authed("token-alice")
	g.drainAll()

	g.send(alice, Inbound{Type: EvDirectMessage, ToUserID: 2, Content: "psst"})

	envs := broker.published()
	req.Len(envs, 2, "one envelope per DM endpoint")
	req.Equal(ScopeUser, envs[0].Scope)
	req.ElementsMatch([]int{1, 2}, []int{envs[0].UserID, envs[1].UserID})
}

func TestRelayTypingCarriesSenderExclusion(t *testing.T) {
	req := require.New(t)
	g := newRig(t)
	broker := &fakeBroker{}
	g.router.SetBroker(broker)

	alice := g.member("token-alice", "general")
	g.drainAll()

	g.send(alice, Inbound{Type: EvTyping, Room: "general"})

	envs := broker.published()
	req.Len(envs, 1)
	req.Equal(1, envs[0].ExcludeUser)
}

func TestDeliverRemoteRoomScope(t *testing.T) {
	req := require.New(t)
	g := newRig(t)

	bob := g.member("token-bob", "general")
	dave := g.member("token-dave", "sports")
	g.drainAll()

	payload, _ := json.Marshal(Outbound{Type: EvChatMessage, Message: &Message{Content: "from peer"}})
	g.router.DeliverRemote(Envelope{Scope: ScopeRoom, Room: "general", Payload: payload})

	out := recv(t, bob)
	req.Equal("from peer", out.Message.Content)
	noEvent(t, dave)
}

func TestDeliverRemoteHonorsUserExclusion(t *testing.T) {
	req := require.New(t)
	g := newRig(t)

	alice := g.member("token-alice", "general")
	bob := g.member("token-bob", "general")
	g.drainAll()

	payload, _ := json.Marshal(Outbound{Type: EvTyping, User: &UserRef{Username: "peer"}})
	g.router.DeliverRemote(Envelope{Scope: ScopeRoom, Room: "general", ExcludeUser: 1, Payload: payload})

	req.Equal(EvTyping, recv(t, bob).Type)
	noEvent(t, alice)
}

func TestDeliverRemoteIgnoresUnknownScope(t *testing.T) {
	g := newRig(t)
	bob := g.member("token-bob", "general")
	g.drainAll()

	g.router.DeliverRemote(Envelope{Scope: "galaxy", Room: "general", Payload: []byte(`{}`)})
	noEvent(t, bob)
}
