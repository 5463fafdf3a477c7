package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is what the coordination core needs from the persistence layer.
// Every call may block on I/O; the core never holds a lock across one.
//
// AppendReaction and MarkRead must be atomic on the store side: two
// concurrent reactors on the same message must both land, and MarkRead is
// an idempotent set-add.
type Store interface {
	AddRoomMember(ctx context.Context, room string, userID int) error
	RecentMessages(ctx context.Context, room string, limit int) ([]*Message, error)
	CreateMessage(ctx context.Context, msg *Message) error
	FindMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	AppendReaction(ctx context.Context, id uuid.UUID, r Reaction) error
	MarkRead(ctx context.Context, id uuid.UUID, userID int) error
	UpdateContent(ctx context.Context, id uuid.UUID, content string) (*Message, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	SetPresence(ctx context.Context, userID int, online bool, lastSeen time.Time) error
}

// TokenValidator resolves a bearer credential to a user identity.
// Implemented by the user service; kept as a local interface so this
// package stays decoupled from it.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}
