package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const terminalStatuses = `('completed', 'cancelled', 'no_show', 'failed')`

// PostgresStore persists sessions and attendees.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO media_sessions
			(id, initiator_id, counterparty_id, appointment_id, external_handle, status, scheduled_start, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.InitiatorID, sess.CounterpartyID, nullable(sess.AppointmentID),
		sess.ExternalHandle, string(sess.Status), sess.ScheduledStart, sess.CreatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT id, initiator_id, counterparty_id, COALESCE(appointment_id, ''), external_handle,
		       status, scheduled_start, actual_start, ended_at, COALESCE(end_reason, ''), created_at
		FROM media_sessions WHERE id = $1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	attendees, err := s.listAttendees(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Attendees = attendees
	return sess, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, sess *Session) error {
	query := `
		UPDATE media_sessions
		SET status = $2, actual_start = $3, ended_at = $4, end_reason = $5
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		sess.ID, string(sess.Status), sess.ActualStart, sess.EndedAt, nullable(sess.EndReason))
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

func (s *PostgresStore) FindActiveByPair(ctx context.Context, userA, userB string, createdAfter time.Time) (*Session, error) {
	query := `
		SELECT id, initiator_id, counterparty_id, COALESCE(appointment_id, ''), external_handle,
		       status, scheduled_start, actual_start, ended_at, COALESCE(end_reason, ''), created_at
		FROM media_sessions
		WHERE ((initiator_id = $1 AND counterparty_id = $2) OR (initiator_id = $2 AND counterparty_id = $1))
		  AND status NOT IN ` + terminalStatuses + `
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, userA, userB, createdAfter))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.withAttendees(ctx, sess)
}

func (s *PostgresStore) FindActiveByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	query := `
		SELECT id, initiator_id, counterparty_id, COALESCE(appointment_id, ''), external_handle,
		       status, scheduled_start, actual_start, ended_at, COALESCE(end_reason, ''), created_at
		FROM media_sessions
		WHERE appointment_id = $1 AND status NOT IN ` + terminalStatuses + `
		ORDER BY created_at DESC
		LIMIT 1
	`
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, appointmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.withAttendees(ctx, sess)
}

func (s *PostgresStore) UpsertAttendee(ctx context.Context, a *Attendee) error {
	query := `
		INSERT INTO attendees (session_id, user_id, role, attendee_id, join_token, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, user_id)
		DO UPDATE SET attendee_id = $4, join_token = $5, joined_at = $6, left_at = $7
	`
	_, err := s.db.ExecContext(ctx, query,
		a.SessionID, a.UserID, string(a.Role), a.AttendeeID, a.JoinToken, a.JoinedAt, a.LeftAt)
	return err
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Session, error) {
	query := `
		SELECT id, initiator_id, counterparty_id, COALESCE(appointment_id, ''), external_handle,
		       status, scheduled_start, actual_start, ended_at, COALESCE(end_reason, ''), created_at
		FROM media_sessions
		WHERE status = $1 AND created_at < $2
	`
	rows, err := s.db.QueryContext(ctx, query, string(status), createdBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) withAttendees(ctx context.Context, sess *Session) (*Session, error) {
	attendees, err := s.listAttendees(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	sess.Attendees = attendees
	return sess, nil
}

func (s *PostgresStore) listAttendees(ctx context.Context, sessionID string) ([]Attendee, error) {
	query := `
		SELECT session_id, user_id, role, attendee_id, join_token, joined_at, left_at
		FROM attendees
		WHERE session_id = $1
		ORDER BY joined_at ASC NULLS LAST
	`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attendee
	for rows.Next() {
		var a Attendee
		var role string
		if err := rows.Scan(&a.SessionID, &a.UserID, &role, &a.AttendeeID,
			&a.JoinToken, &a.JoinedAt, &a.LeftAt); err != nil {
			return nil, err
		}
		a.Role = Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var status string
	if err := row.Scan(&sess.ID, &sess.InitiatorID, &sess.CounterpartyID, &sess.AppointmentID,
		&sess.ExternalHandle, &status, &sess.ScheduledStart, &sess.ActualStart,
		&sess.EndedAt, &sess.EndReason, &sess.CreatedAt); err != nil {
		return nil, err
	}
	sess.Status = Status(status)
	return sess, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
