// Package chat is the real-time coordination core: it tracks live
// connections and their identities, manages room subscriptions, routes
// inbound chat events through persistence, and fans the results out to
// the connections that should see them.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------
// Database & wire models
// ---------------------------------------------

// UserRef identifies a message endpoint. Username is denormalized onto the
// message so history renders without a join.
type UserRef struct {
	UserID   int    `json:"userId"`
	Username string `json:"username,omitempty"`
}

// FileMeta is the persisted part of a file attachment. The bytes live
// behind URL; an upload pipeline elsewhere produced it.
type FileMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// FilePayload is what a client declares when attaching a file. Size is
// validated and then dropped; it is never persisted.
type FilePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

type Reaction struct {
	UserID   int    `json:"userId"`
	Reaction string `json:"reaction"`
}

// Message is the durable chat record. Room is empty for direct messages.
// Deleted rows stay in the store for auditing but are excluded from every
// history query.
type Message struct {
	ID        uuid.UUID  `json:"id"`
	Room      string     `json:"room,omitempty"`
	From      UserRef    `json:"from"`
	To        *UserRef   `json:"to,omitempty"`
	Content   string     `json:"content"`
	File      *FileMeta  `json:"file,omitempty"`
	Reactions []Reaction `json:"reactions"`
	ReadBy    []int      `json:"readBy"`
	Deleted   bool       `json:"deleted"`
	Edited    bool       `json:"edited"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Identity is the stable user identity resolved from a credential, cached
// for the lifetime of a connection.
type Identity struct {
	UserID   int
	Username string
}

func (id Identity) Ref() UserRef {
	return UserRef{UserID: id.UserID, Username: id.Username}
}
