package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) AutoMigrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            username VARCHAR(50) UNIQUE NOT NULL,
            password VARCHAR(255) NOT NULL,
            online BOOLEAN NOT NULL DEFAULT FALSE,
            last_seen TIMESTAMPTZ,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS rooms (
            name TEXT PRIMARY KEY,
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS room_members (
            room TEXT NOT NULL REFERENCES rooms(name) ON DELETE CASCADE,
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            PRIMARY KEY (room, user_id)
        )`,

		// Messages are soft-deleted only: the deleted flag hides a row from
		// history queries, the row itself is never removed.
		`CREATE TABLE IF NOT EXISTS messages (
            id UUID PRIMARY KEY,
            room TEXT,
            from_user_id INTEGER NOT NULL,
            from_username TEXT NOT NULL,
            to_user_id INTEGER,
            to_username TEXT,
            content TEXT NOT NULL DEFAULT '',
            file_name TEXT,
            file_type TEXT,
            file_url TEXT,
            reactions JSONB NOT NULL DEFAULT '[]',
            read_by JSONB NOT NULL DEFAULT '[]',
            deleted BOOLEAN NOT NULL DEFAULT FALSE,
            edited BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_messages_room_created
            ON messages (room, created_at DESC) WHERE NOT deleted`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
