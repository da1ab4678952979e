// Package notify persists notification records and best-effort pushes
// them to the recipient's live connections. Persistence and push are
// independent: the push is purely an immediacy optimization and its
// failure never rolls back the record.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-signal/internal/fanout"
)

// ErrNotFound means the notification id is unknown (or not the caller's).
var ErrNotFound = errors.New("notify: notification not found")

// Type enumerates notification kinds.
type Type string

const (
	TypeMessage      Type = "message"
	TypeAppointment  Type = "appointment"
	TypePayment      Type = "payment"
	TypeProfileVisit Type = "profile_visit"
	TypeVideoCall    Type = "video_call"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeAppointment, TypePayment, TypeProfileVisit, TypeVideoCall:
		return true
	}
	return false
}

// Notification is one persisted notification record.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SenderID  string    `json:"sender_id,omitempty"`
	Type      Type      `json:"type"`
	Content   string    `json:"content"`
	RelatedID string    `json:"related_id,omitempty"`
	Unread    bool      `json:"unread"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the persistent record store for notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	// FindRecent returns the newest record matching the suppression key
	// created at or after since, or ErrNotFound.
	FindRecent(ctx context.Context, userID string, t Type, relatedID string, since time.Time) (*Notification, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Broadcaster is the slice of the fanout engine the dispatcher needs.
type Broadcaster interface {
	Deliver(ctx context.Context, sel fanout.Selector, payload []byte, opts fanout.Options) fanout.Result
}

const (
	DefaultSuppressionWindow = 60 * time.Minute
	DefaultTTL               = 30 * 24 * time.Hour
)

// Options carries the optional notify parameters.
type Options struct {
	SenderID  string
	RelatedID string
}

// Dispatcher creates notification records with per-type duplicate
// suppression and pushes them live.
type Dispatcher struct {
	store Store
	fan   Broadcaster
	log   *slog.Logger
	ttl   time.Duration

	// mu guards the suppression config, which is normally wired once
	// at startup but may be adjusted while Notify calls are in flight.
	mu     sync.RWMutex
	window time.Duration
	// suppressed lists the types subject to the suppression window.
	// High-frequency, low-urgency types opt in here.
	suppressed map[Type]bool
}

func NewDispatcher(store Store, fan Broadcaster, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		fan:    fan,
		log:    log,
		window: DefaultSuppressionWindow,
		ttl:    DefaultTTL,
		suppressed: map[Type]bool{
			TypeProfileVisit: true,
		},
	}
}

// SetSuppressionWindow overrides the duplicate-suppression window.
func (d *Dispatcher) SetSuppressionWindow(w time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window = w
}

// Suppress opts a type into duplicate suppression.
func (d *Dispatcher) Suppress(t Type) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suppressed[t] = true
}

func (d *Dispatcher) suppression(t Type) (time.Duration, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.window, d.suppressed[t]
}

// Notify persists and pushes a notification. The boolean is true when
// the notification was suppressed by the rate-limit window; suppression
// is an intentional no-op, not an error.
func (d *Dispatcher) Notify(ctx context.Context, targetUserID string, t Type, content string, opts Options) (*Notification, bool, error) {
	if !t.Valid() {
		return nil, false, fmt.Errorf("notify: unknown type %q", t)
	}

	if window, limited := d.suppression(t); limited {
		since := time.Now().Add(-window)
		existing, err := d.store.FindRecent(ctx, targetUserID, t, opts.RelatedID, since)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
		if existing != nil {
			return nil, true, nil
		}
	}

	now := time.Now().UTC()
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    targetUserID,
		SenderID:  opts.SenderID,
		Type:      t,
		Content:   content,
		RelatedID: opts.RelatedID,
		Unread:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(d.ttl),
	}
	if err := d.store.Create(ctx, n); err != nil {
		return nil, false, err
	}

	d.push(ctx, n)
	return n, false, nil
}

func (d *Dispatcher) push(ctx context.Context, n *Notification) {
	payload, err := json.Marshal(map[string]any{
		"type":         "notification",
		"notification": n,
	})
	if err != nil {
		d.log.Error("notify: marshal push payload", "err", err)
		return
	}

	res := d.fan.Deliver(ctx, fanout.ToUser(n.UserID), payload, fanout.Options{})
	if len(res.Errors) > 0 {
		// The record is already durable; a failed push only costs immediacy.
		d.log.Warn("notify: live push incomplete",
			"notification_id", n.ID, "sent", res.Sent, "errors", len(res.Errors))
	}
}

// ListByUser returns the newest notifications for a user.
func (d *Dispatcher) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return d.store.ListByUser(ctx, userID, limit)
}

// MarkRead flips unread to false for one of the user's notifications.
func (d *Dispatcher) MarkRead(ctx context.Context, id, userID string) error {
	return d.store.MarkRead(ctx, id, userID)
}

// PurgeExpired deletes records past their expiry. Run from the janitor.
func (d *Dispatcher) PurgeExpired(ctx context.Context) error {
	n, err := d.store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		d.log.Info("notify: purged expired notifications", "count", n)
	}
	return nil
}
