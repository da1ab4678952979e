package notify

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore persists notifications in the notifications table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, sender_id, type, content, related_id, unread, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.UserID, nullable(n.SenderID), string(n.Type), n.Content,
		nullable(n.RelatedID), n.Unread, n.CreatedAt, n.ExpiresAt)
	return err
}

func (s *PostgresStore) FindRecent(ctx context.Context, userID string, t Type, relatedID string, since time.Time) (*Notification, error) {
	query := `
		SELECT id, user_id, COALESCE(sender_id, ''), type, content, COALESCE(related_id, ''), unread, created_at, expires_at
		FROM notifications
		WHERE user_id = $1 AND type = $2 AND COALESCE(related_id, '') = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, query, userID, string(t), relatedID, since)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	query := `
		SELECT id, user_id, COALESCE(sender_id, ''), type, content, COALESCE(related_id, ''), unread, created_at, expires_at
		FROM notifications
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET unread = FALSE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(row scanner) (*Notification, error) {
	n := &Notification{}
	var typ string
	if err := row.Scan(&n.ID, &n.UserID, &n.SenderID, &typ, &n.Content,
		&n.RelatedID, &n.Unread, &n.CreatedAt, &n.ExpiresAt); err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
