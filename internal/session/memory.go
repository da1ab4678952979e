package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneSession(&sess)
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = sess.Status
	stored.ActualStart = sess.ActualStart
	stored.EndedAt = sess.EndedAt
	stored.EndReason = sess.EndReason
	s.sessions[sess.ID] = stored
	return nil
}

func (s *MemoryStore) FindActiveByPair(ctx context.Context, userA, userB string, createdAfter time.Time) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *Session
	for _, sess := range s.sessions {
		pairMatch := (sess.InitiatorID == userA && sess.CounterpartyID == userB) ||
			(sess.InitiatorID == userB && sess.CounterpartyID == userA)
		if !pairMatch || sess.Status.IsTerminal() || sess.CreatedAt.Before(createdAfter) {
			continue
		}
		if newest == nil || sess.CreatedAt.After(newest.CreatedAt) {
			cp := cloneSession(&sess)
			newest = &cp
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (s *MemoryStore) FindActiveByAppointment(ctx context.Context, appointmentID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.AppointmentID == appointmentID && !sess.Status.IsTerminal() {
			cp := cloneSession(&sess)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpsertAttendee(ctx context.Context, a *Attendee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[a.SessionID]
	if !ok {
		return ErrNotFound
	}
	for i := range sess.Attendees {
		if sess.Attendees[i].UserID == a.UserID {
			sess.Attendees[i] = *a
			s.sessions[a.SessionID] = sess
			return nil
		}
	}
	sess.Attendees = append(sess.Attendees, *a)
	s.sessions[a.SessionID] = sess
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, createdBefore time.Time) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if sess.Status == status && sess.CreatedAt.Before(createdBefore) {
			out = append(out, cloneSession(&sess))
		}
	}
	return out, nil
}

func cloneSession(sess *Session) Session {
	cp := *sess
	cp.Attendees = append([]Attendee(nil), sess.Attendees...)
	return cp
}
