package session

import (
	"context"
	"errors"
)

var (
	// ErrMeetingGone means the provider reports the meeting missing or expired.
	ErrMeetingGone = errors.New("provider: meeting gone")
	// ErrProviderUnavailable means the provider could not be reached.
	ErrProviderUnavailable = errors.New("provider: unavailable")
)

// AttendeeCredentials is what the provider hands out for one admission.
// The join token is single-use on the provider side.
type AttendeeCredentials struct {
	AttendeeID string
	JoinToken  string
}

// Provider is the external media-session service. Implementations must
// not be called while holding any lock.
type Provider interface {
	// CreateMeeting reserves a meeting and returns its opaque handle.
	CreateMeeting(ctx context.Context, externalID, region string) (string, error)
	// CreateAttendee admits an external user to a meeting.
	CreateAttendee(ctx context.Context, meetingHandle, externalUserID string) (*AttendeeCredentials, error)
	// GetMeeting verifies a handle is still valid; ErrMeetingGone if not.
	GetMeeting(ctx context.Context, meetingHandle string) (string, error)
	// DeleteMeeting releases the meeting. Deleting a gone meeting is fine.
	DeleteMeeting(ctx context.Context, meetingHandle string) error
}
