// Package store is the Postgres persistence layer behind the chat core
// and the HTTP endpoints. Concurrency-sensitive mutations (reaction
// append, read set-add, soft delete) are single SQL statements so the
// database serializes them; the core never does read-modify-write.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chat-server/internal/chat"
)

var (
	ErrRoomExists = errors.New("room already exists")
	ErrNoRoom     = errors.New("room not found")
)

type Room struct {
	Name      string    `json:"name"`
	Members   []int     `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ---------------------------------------------
// chat.Store
// ---------------------------------------------

// AddRoomMember durably records room membership. The room is created on
// first reference and the add is idempotent.
func (p *Postgres) AddRoomMember(ctx context.Context, room string, userID int) error {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, room); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO room_members (room, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		room, userID)
	return err
}

// RecentMessages returns the newest limit messages of a room, oldest
// first. Soft-deleted rows never appear.
func (p *Postgres) RecentMessages(ctx context.Context, room string, limit int) ([]*chat.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE room = $1 AND NOT deleted
		ORDER BY created_at DESC
		LIMIT $2
	`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the index; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *Postgres) CreateMessage(ctx context.Context, msg *chat.Message) error {
	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return err
	}
	readBy, err := json.Marshal(msg.ReadBy)
	if err != nil {
		return err
	}

	var room sql.NullString
	if msg.Room != "" {
		room = sql.NullString{String: msg.Room, Valid: true}
	}
	var toID sql.NullInt64
	var toName sql.NullString
	if msg.To != nil {
		toID = sql.NullInt64{Int64: int64(msg.To.UserID), Valid: true}
		if msg.To.Username != "" {
			toName = sql.NullString{String: msg.To.Username, Valid: true}
		}
	}
	var fileName, fileType, fileURL sql.NullString
	if msg.File != nil {
		fileName = sql.NullString{String: msg.File.Name, Valid: true}
		fileType = sql.NullString{String: msg.File.Type, Valid: true}
		fileURL = sql.NullString{String: msg.File.URL, Valid: true}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, room, from_user_id, from_username, to_user_id, to_username,
			 content, file_name, file_type, file_url, reactions, read_by,
			 deleted, edited, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, FALSE, $13)
	`, msg.ID, room, msg.From.UserID, msg.From.Username, toID, toName,
		msg.Content, fileName, fileType, fileURL, reactions, readBy, msg.CreatedAt)
	return err
}

func (p *Postgres) FindMessage(ctx context.Context, id uuid.UUID) (*chat.Message, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	return msg, err
}

// AppendReaction pushes onto the reactions array in one statement, so
// concurrent reactors on the same message cannot lose each other's update.
func (p *Postgres) AppendReaction(ctx context.Context, id uuid.UUID, r chat.Reaction) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE messages SET reactions = reactions || $2::jsonb WHERE id = $1`,
		id, data)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// MarkRead is an idempotent set-add on read_by.
func (p *Postgres) MarkRead(ctx context.Context, id uuid.UUID, userID int) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE messages
		SET read_by = read_by || to_jsonb($2::int)
		WHERE id = $1 AND NOT read_by @> to_jsonb($2::int)
	`, id, userID)
	if err != nil {
		return err
	}
	// Zero rows is fine when the user already read the message; only a
	// missing row is an error.
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return chat.ErrNotFound
		}
	}
	return nil
}

// UpdateContent sets the new content and the edited flag, returning the
// row as persisted so the caller fans out exactly what the store holds.
func (p *Postgres) UpdateContent(ctx context.Context, id uuid.UUID, content string) (*chat.Message, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE messages SET content = $2, edited = TRUE
		WHERE id = $1
		RETURNING `+messageColumns+`
	`, id, content)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chat.ErrNotFound
	}
	return msg, err
}

// SoftDelete flags the message deleted; the row is kept for auditing and
// read counts but excluded from every history query.
func (p *Postgres) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE messages SET deleted = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (p *Postgres) SetPresence(ctx context.Context, userID int, online bool, lastSeen time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET online = $2, last_seen = $3 WHERE id = $1`,
		userID, online, lastSeen)
	return err
}

// ---------------------------------------------
// Room API (HTTP layer)
// ---------------------------------------------

func (p *Postgres) CreateRoom(ctx context.Context, name string, creatorID int) (*Room, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO rooms (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRoomExists
	}
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO room_members (room, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		name, creatorID); err != nil {
		return nil, err
	}
	return p.FindRoom(ctx, name)
}

func (p *Postgres) FindRoom(ctx context.Context, name string) (*Room, error) {
	rooms, err := p.queryRooms(ctx, `WHERE r.name = $1`, name)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, ErrNoRoom
	}
	return rooms[0], nil
}

func (p *Postgres) ListRooms(ctx context.Context) ([]*Room, error) {
	return p.queryRooms(ctx, ``)
}

func (p *Postgres) queryRooms(ctx context.Context, where string, args ...any) ([]*Room, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT r.name, r.created_at,
		       COALESCE(json_agg(m.user_id) FILTER (WHERE m.user_id IS NOT NULL), '[]')
		FROM rooms r
		LEFT JOIN room_members m ON m.room = r.name
		%s
		GROUP BY r.name, r.created_at
		ORDER BY r.name
	`, where), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room := &Room{}
		var members []byte
		if err := rows.Scan(&room.Name, &room.CreatedAt, &members); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(members, &room.Members); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ---------------------------------------------
// Scanning
// ---------------------------------------------

const messageColumns = `id, room, from_user_id, from_username, to_user_id, to_username,
	content, file_name, file_type, file_url, reactions, read_by, deleted, edited, created_at`

type scannable interface {
	Scan(dest ...any) error
}

func scanMessage(row scannable) (*chat.Message, error) {
	var (
		msg                       chat.Message
		room                      sql.NullString
		toID                      sql.NullInt64
		toName                    sql.NullString
		fileName, fileType, fileU sql.NullString
		reactions, readBy         []byte
	)
	err := row.Scan(&msg.ID, &room, &msg.From.UserID, &msg.From.Username,
		&toID, &toName, &msg.Content, &fileName, &fileType, &fileU,
		&reactions, &readBy, &msg.Deleted, &msg.Edited, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	msg.Room = room.String
	if toID.Valid {
		msg.To = &chat.UserRef{UserID: int(toID.Int64), Username: toName.String}
	}
	if fileName.Valid || fileU.Valid {
		msg.File = &chat.FileMeta{Name: fileName.String, Type: fileType.String, URL: fileU.String}
	}
	if err := json.Unmarshal(reactions, &msg.Reactions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(readBy, &msg.ReadBy); err != nil {
		return nil, err
	}
	return &msg, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chat.ErrNotFound
	}
	return nil
}
