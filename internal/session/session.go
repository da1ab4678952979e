// Package session owns the lifecycle of a call's media session:
// creation, attendee admission, status transitions, and termination.
// The media plane itself belongs to the external provider; this
// package only keeps the session record truthful.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound means the session or attendee reference is stale.
	ErrNotFound = errors.New("session: not found")
	// ErrForbidden means the caller is not a party to the session.
	ErrForbidden = errors.New("session: user is not a party to this session")
	// ErrSessionEnded means the session reached a terminal state.
	ErrSessionEnded = errors.New("session: already ended")
	// ErrGone means the provider no longer knows the meeting.
	ErrGone = errors.New("session: meeting expired at provider")
)

// Status is the session lifecycle state.
//
// scheduled → waiting → in_progress → completed, with cancelled,
// no_show and failed terminal from any non-terminal state. Transitions
// never move backwards.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
	StatusFailed     Status = "failed"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusFailed:
		return true
	}
	return false
}

// Role of an attendee within a session.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Session is the persisted call lifecycle record. It is retained after
// termination for audit; "destroy" only means reaching a terminal status.
type Session struct {
	ID             string     `json:"id"`
	InitiatorID    string     `json:"initiator_id"`
	CounterpartyID string     `json:"counterparty_id"`
	AppointmentID  string     `json:"appointment_id,omitempty"`
	ExternalHandle string     `json:"-"`
	Status         Status     `json:"status"`
	Attendees      []Attendee `json:"attendees,omitempty"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ActualStart    *time.Time `json:"actual_start,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsParty reports whether userID is the initiator or counterparty.
func (s *Session) IsParty(userID string) bool {
	return userID == s.InitiatorID || userID == s.CounterpartyID
}

// ActiveAttendees counts attendees who joined and have not left.
func (s *Session) ActiveAttendees() int {
	n := 0
	for _, a := range s.Attendees {
		if a.Active() {
			n++
		}
	}
	return n
}

// Attendee is one participant's admission record. At most one per
// (session, user); rejoin reuses it.
type Attendee struct {
	SessionID  string     `json:"session_id"`
	UserID     string     `json:"user_id"`
	Role       Role       `json:"role"`
	AttendeeID string     `json:"attendee_id"`
	JoinToken  string     `json:"join_token,omitempty"`
	JoinedAt   *time.Time `json:"joined_at,omitempty"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
}

func (a *Attendee) Active() bool {
	return a.JoinedAt != nil && a.LeftAt == nil
}
