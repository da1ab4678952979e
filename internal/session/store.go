package session

import (
	"context"
	"time"
)

// Store is the persistent record store for sessions and attendees.
// Single-record updates are atomic; that is all the manager relies on.
type Store interface {
	Create(ctx context.Context, s *Session) error
	// Get returns the session with its attendees, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)
	// UpdateStatus persists Status, ActualStart, EndedAt and EndReason.
	UpdateStatus(ctx context.Context, s *Session) error
	// FindActiveByPair returns a non-terminal session between the two
	// users created at or after createdAfter, or ErrNotFound. The pair
	// is unordered.
	FindActiveByPair(ctx context.Context, userA, userB string, createdAfter time.Time) (*Session, error)
	// FindActiveByAppointment returns the non-terminal session for an
	// appointment, or ErrNotFound.
	FindActiveByAppointment(ctx context.Context, appointmentID string) (*Session, error)
	// UpsertAttendee inserts or replaces the (session, user) attendee.
	UpsertAttendee(ctx context.Context, a *Attendee) error
	// ListByStatus returns sessions in a status created before the cutoff.
	ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Session, error)
}
