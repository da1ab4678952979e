package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultRecencyWindow bounds idempotent-by-intent creation: a second
// create for the same pair within this window returns the existing
// session instead of reserving another meeting.
const DefaultRecencyWindow = 5 * time.Minute

// Manager drives the session state machine. It holds no state of its
// own: every decision reads the store, so independent handlers on any
// instance see the same lifecycle.
type Manager struct {
	store    Store
	provider Provider
	log      *slog.Logger
	region   string
	recency  time.Duration
}

func NewManager(store Store, provider Provider, region string, log *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		provider: provider,
		log:      log,
		region:   region,
		recency:  DefaultRecencyWindow,
	}
}

// SetRecencyWindow overrides the duplicate-create window.
func (m *Manager) SetRecencyWindow(w time.Duration) { m.recency = w }

// Create reserves a meeting at the provider and persists a SCHEDULED
// session. An active session for the same appointment, or for the same
// pair created within the recency window, is returned as-is.
func (m *Manager) Create(ctx context.Context, initiatorID, counterpartyID, appointmentID string, scheduledStart *time.Time) (*Session, error) {
	if appointmentID != "" {
		existing, err := m.store.FindActiveByAppointment(ctx, appointmentID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	existing, err := m.store.FindActiveByPair(ctx, initiatorID, counterpartyID, time.Now().Add(-m.recency))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	handle, err := m.provider.CreateMeeting(ctx, id, m.region)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	s := &Session{
		ID:             id,
		InitiatorID:    initiatorID,
		CounterpartyID: counterpartyID,
		AppointmentID:  appointmentID,
		ExternalHandle: handle,
		Status:         StatusScheduled,
		ScheduledStart: scheduledStart,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.Create(ctx, s); err != nil {
		// The reserved meeting would leak otherwise.
		if dErr := m.provider.DeleteMeeting(ctx, handle); dErr != nil {
			m.log.Warn("session: orphaned meeting handle", "handle", handle, "err", dErr)
		}
		return nil, err
	}
	return s, nil
}

// Join admits a party to the session. The provider handle is verified
// first: a meeting the provider no longer knows moves the session to
// FAILED so the record reflects reality, and the join fails with ErrGone.
func (m *Manager) Join(ctx context.Context, sessionID, userID string) (*Session, *Attendee, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !s.IsParty(userID) {
		return nil, nil, ErrForbidden
	}
	if s.Status.IsTerminal() {
		return nil, nil, ErrSessionEnded
	}

	if _, err := m.provider.GetMeeting(ctx, s.ExternalHandle); err != nil {
		if errors.Is(err, ErrMeetingGone) {
			m.terminate(ctx, s, StatusFailed, "expired")
			return nil, nil, ErrGone
		}
		return nil, nil, err
	}

	now := time.Now().UTC()
	othersActive := 0
	var attendee *Attendee
	for i := range s.Attendees {
		a := &s.Attendees[i]
		if a.UserID == userID {
			attendee = a
			continue
		}
		if a.Active() {
			othersActive++
		}
	}

	if attendee == nil {
		creds, err := m.provider.CreateAttendee(ctx, s.ExternalHandle, userID)
		if err != nil {
			return nil, nil, err
		}
		role := RoleParticipant
		if userID == s.InitiatorID {
			role = RoleHost
		}
		attendee = &Attendee{
			SessionID:  s.ID,
			UserID:     userID,
			Role:       role,
			AttendeeID: creds.AttendeeID,
			JoinToken:  creds.JoinToken,
		}
		s.Attendees = append(s.Attendees, *attendee)
		attendee = &s.Attendees[len(s.Attendees)-1]
	}
	attendee.JoinedAt = &now
	attendee.LeftAt = nil
	if err := m.store.UpsertAttendee(ctx, attendee); err != nil {
		return nil, nil, err
	}

	// Someone else already in the meeting means the call is underway;
	// alone means waiting for the peer. Never step backwards.
	if othersActive > 0 {
		s.Status = StatusInProgress
	} else if s.Status == StatusScheduled {
		s.Status = StatusWaiting
	}
	if s.ActualStart == nil {
		s.ActualStart = &now
	}
	if err := m.store.UpdateStatus(ctx, s); err != nil {
		return nil, nil, err
	}
	return s, attendee, nil
}

// Leave marks the attendee as departed. Session status is deliberately
// untouched: either party may rejoin until the session is ended.
func (m *Manager) Leave(ctx context.Context, sessionID, userID string) error {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	for i := range s.Attendees {
		a := &s.Attendees[i]
		if a.UserID != userID || !a.Active() {
			continue
		}
		now := time.Now().UTC()
		a.LeftAt = &now
		return m.store.UpsertAttendee(ctx, a)
	}
	return ErrNotFound
}

// End moves the session to the terminal status matching reason and
// releases the provider handle. Ending an ended session is a no-op.
func (m *Manager) End(ctx context.Context, sessionID, reason string) (*Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status.IsTerminal() {
		return s, nil
	}
	if err := m.terminate(ctx, s, statusForReason(reason), reason); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) terminate(ctx context.Context, s *Session, status Status, reason string) error {
	now := time.Now().UTC()
	s.Status = status
	s.EndedAt = &now
	s.EndReason = reason
	if err := m.store.UpdateStatus(ctx, s); err != nil {
		return err
	}
	// Release the handle after the record is truthful; a failed release
	// costs a provider-side expiry, not a wrong state.
	if err := m.provider.DeleteMeeting(ctx, s.ExternalHandle); err != nil {
		m.log.Warn("session: release meeting failed", "session_id", s.ID, "err", err)
	}
	return nil
}

func statusForReason(reason string) Status {
	switch reason {
	case "cancelled", "declined", "timeout", "hangup":
		return StatusCancelled
	case "failed", "expired":
		return StatusFailed
	case "no_show":
		return StatusNoShow
	default:
		return StatusCompleted
	}
}

// SweepNoShows marks sessions still SCHEDULED past the cutoff as
// NO_SHOW. Run from the janitor.
func (m *Manager) SweepNoShows(ctx context.Context, olderThan time.Duration) error {
	stale, err := m.store.ListByStatus(ctx, StatusScheduled, time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	for i := range stale {
		s := stale[i]
		if err := m.terminate(ctx, &s, StatusNoShow, "no_show"); err != nil {
			m.log.Warn("session: no-show sweep failed", "session_id", s.ID, "err", err)
		}
	}
	if len(stale) > 0 {
		m.log.Info("session: swept no-shows", "count", len(stale))
	}
	return nil
}
