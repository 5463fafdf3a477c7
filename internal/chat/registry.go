package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry tracks live connections and their authenticated identities.
// A user may hold several connections at once (multi-device); the user is
// online while at least one remains. All methods take only a short lock,
// never across I/O.
type Registry struct {
	mu     sync.RWMutex
	conns  map[*Client]struct{}
	idents map[*Client]Identity
	byUser map[int]map[*Client]struct{}
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[*Client]struct{}),
		idents: make(map[*Client]Identity),
		byUser: make(map[int]map[*Client]struct{}),
		log:    log,
	}
}

// Admit registers an unauthenticated connection. No side effects are
// visible to other connections.
func (r *Registry) Admit(c *Client) {
	r.mu.Lock()
	r.conns[c] = struct{}{}
	total := len(r.conns)
	r.mu.Unlock()
	r.log.Debug("connection admitted", "conn", c.id, "total", total)
}

// Bind attaches a verified identity to an admitted connection and reports
// whether this brought the user online (first live connection).
func (r *Registry) Bind(c *Client, ident Identity) (cameOnline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.idents[c]; ok {
		// Re-authentication on a live connection: detach the old binding.
		r.detachLocked(c, old)
	}
	r.idents[c] = ident
	set, ok := r.byUser[ident.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.byUser[ident.UserID] = set
	}
	cameOnline = len(set) == 0
	set[c] = struct{}{}
	return cameOnline
}

// Drop removes a connection entirely. It reports the identity the
// connection carried, if any, and whether the user went offline with it.
func (r *Registry) Drop(c *Client) (ident Identity, wasAuthed, wentOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c)
	ident, wasAuthed = r.idents[c]
	if !wasAuthed {
		return Identity{}, false, false
	}
	r.detachLocked(c, ident)
	_, stillOn := r.byUser[ident.UserID]
	return ident, true, !stillOn
}

func (r *Registry) detachLocked(c *Client, ident Identity) {
	delete(r.idents, c)
	if set, ok := r.byUser[ident.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.byUser, ident.UserID)
		}
	}
}

// IdentityOf returns the authenticated identity of a connection.
func (r *Registry) IdentityOf(c *Client) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.idents[c]
	return ident, ok
}

// ConnsOf returns every live connection bound to a user.
func (r *Registry) ConnsOf(userID int) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser[userID])
}

// All returns every admitted connection, authenticated or not.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.conns)
}

// Online returns the distinct identities currently online, sorted by
// user id so repeated snapshots compare stable.
func (r *Registry) Online() []UserRef {
	r.mu.RLock()
	users := make(map[int]UserRef, len(r.byUser))
	for _, ident := range r.idents {
		users[ident.UserID] = ident.Ref()
	}
	r.mu.RUnlock()

	refs := lo.Values(users)
	sort.Slice(refs, func(i, j int) bool { return refs[i].UserID < refs[j].UserID })
	return refs
}
