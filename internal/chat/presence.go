package chat

import (
	"fmt"
	"log/slog"
)

// Presence derives join/leave notices and online-user lists purely from
// registry transitions; it keeps no state of its own.
type Presence struct {
	registry   *Registry
	membership *Membership
	log        *slog.Logger
}

func NewPresence(registry *Registry, membership *Membership, log *slog.Logger) *Presence {
	return &Presence{registry: registry, membership: membership, log: log}
}

// UserOnline announces a user's first live connection: the refreshed
// online list goes to everyone, as does the join notice (the user is not
// in any room yet, so there is nothing narrower to scope it to).
func (p *Presence) UserOnline(ident Identity) {
	all := p.registry.All()
	deliver(all, Outbound{Type: EvUserList, Users: p.registry.Online()})
	deliver(all, systemNotice(fmt.Sprintf("%s joined the chat.", ident.Username)))
	p.log.Info("user online", "user", ident.Username, "userId", ident.UserID)
}

// UserOffline announces a user's last connection going away. The online
// list goes to everyone; the leave notice only to rooms the user was
// actually live in, so unrelated rooms see nothing.
func (p *Presence) UserOffline(ident Identity, rooms []string) {
	deliver(p.registry.All(), Outbound{Type: EvUserList, Users: p.registry.Online()})

	notice := systemNotice(fmt.Sprintf("%s left the chat.", ident.Username))
	for _, room := range rooms {
		notice.Room = room
		deliver(p.membership.SubscribersOf(room), notice)
	}
	p.log.Info("user offline", "user", ident.Username, "userId", ident.UserID)
}
