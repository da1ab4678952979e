// Package presence derives per-user online/offline state from the
// connection registry: zero remaining connections means offline.
//
// Only going offline is broadcast. Going online is observed
// incidentally by peers through other events, so registration stays
// silent on purpose; do not "fix" the asymmetry.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go-signal/internal/fanout"
	"go-signal/internal/registry"
)

// Broadcaster is the slice of the fanout engine the tracker needs.
type Broadcaster interface {
	Deliver(ctx context.Context, sel fanout.Selector, payload []byte, opts fanout.Options) fanout.Result
}

// LastSeen records when a user was last reachable. Implementations are
// fire-and-forget; the tracker never waits on them.
type LastSeen interface {
	MarkOffline(userID string, at time.Time)
}

// Event is the wire shape of a presence change.
type Event struct {
	Type     string    `json:"type"` // always "presence"
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type Tracker struct {
	reg      registry.Registry
	fan      Broadcaster
	lastSeen LastSeen
	log      *slog.Logger
}

func NewTracker(reg registry.Registry, fan Broadcaster, lastSeen LastSeen, log *slog.Logger) *Tracker {
	return &Tracker{reg: reg, fan: fan, lastSeen: lastSeen, log: log}
}

// HandleDisconnect removes the connection and, if it was the user's
// last one, announces the user offline to the conversation the
// connection was viewing and records the last-seen timestamp.
func (t *Tracker) HandleDisconnect(ctx context.Context, connectionID string) error {
	conn, err := t.reg.FindByConnection(ctx, connectionID)
	if errors.Is(err, registry.ErrNotFound) {
		return nil // already pruned by fanout, nothing left to do
	}
	if err != nil {
		return err
	}

	if err := t.reg.Remove(ctx, connectionID); err != nil {
		return err
	}

	remaining, err := t.reg.ListByUser(ctx, conn.UserID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil // another device is still attached
	}

	now := time.Now().UTC()
	t.lastSeen.MarkOffline(conn.UserID, now)

	if conn.VisibleConversationID == "" {
		// No conversation in view means no known interested parties.
		t.log.Debug("presence: offline without visible conversation", "user_id", conn.UserID)
		return nil
	}

	payload, err := json.Marshal(Event{
		Type:     "presence",
		UserID:   conn.UserID,
		Online:   false,
		LastSeen: now,
	})
	if err != nil {
		return err
	}

	t.fan.Deliver(ctx, fanout.ToConversation(conn.VisibleConversationID), payload, fanout.Options{
		ExcludeUser: conn.UserID,
	})
	return nil
}
