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
		`CREATE TABLE IF NOT EXISTS notifications (
            id UUID PRIMARY KEY,
            user_id TEXT NOT NULL,
            sender_id TEXT,
            type VARCHAR(20) NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            related_id TEXT,
            unread BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_notifications_user
            ON notifications (user_id, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_notifications_suppression
            ON notifications (user_id, type, related_id, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS media_sessions (
            id UUID PRIMARY KEY,
            initiator_id TEXT NOT NULL,
            counterparty_id TEXT NOT NULL,
            appointment_id TEXT,
            external_handle TEXT NOT NULL,
            status VARCHAR(15) NOT NULL,
            scheduled_start TIMESTAMPTZ,
            actual_start TIMESTAMPTZ,
            ended_at TIMESTAMPTZ,
            end_reason TEXT,
            created_at TIMESTAMPTZ NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_media_sessions_pair
            ON media_sessions (initiator_id, counterparty_id, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS idx_media_sessions_appointment
            ON media_sessions (appointment_id) WHERE appointment_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS attendees (
            session_id UUID REFERENCES media_sessions(id) ON DELETE CASCADE,
            user_id TEXT NOT NULL,
            role VARCHAR(15) NOT NULL,
            attendee_id TEXT NOT NULL,
            join_token TEXT NOT NULL,
            joined_at TIMESTAMPTZ,
            left_at TIMESTAMPTZ,
            PRIMARY KEY (session_id, user_id)
        )`,
	}

	for _, query := range queries {
		_, err := d.Conn.Exec(query)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
