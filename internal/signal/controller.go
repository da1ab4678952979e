// Package signal implements the call invite/accept/decline/end
// protocol on top of the fanout engine. Signal events are transient:
// they exist only as delivery payloads, never as stored records, so
// every event is self-describing and safe to receive out of order or
// twice.
package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go-signal/internal/fanout"
	"go-signal/internal/session"
)

// DefaultInviteTimeout is how long an invite rings before the
// controller synthesizes a decline on the inviting side.
const DefaultInviteTimeout = 60 * time.Second

// Wire types for call signal events.
const (
	TypeInvite  = "call_invite"
	TypeAccept  = "call_accept"
	TypeDecline = "call_decline"
	TypeEnd     = "call_end"
)

// Event is the transient signal payload.
type Event struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	// Auto marks a decline synthesized by the invite timeout rather
	// than sent by the callee.
	Auto bool `json:"auto,omitempty"`
}

// Broadcaster is the slice of the fanout engine the controller needs.
type Broadcaster interface {
	Deliver(ctx context.Context, sel fanout.Selector, payload []byte, opts fanout.Options) fanout.Result
}

// SessionEnder releases a pre-created media session when an invite
// dies before anyone joined.
type SessionEnder interface {
	End(ctx context.Context, sessionID, reason string) (*session.Session, error)
}

type pendingInvite struct {
	callerID   string
	calleeID   string
	callerName string
	timer      *time.Timer
}

// Controller tracks outstanding invites on the inviting side. Each
// invite owns one cancellable timer keyed by sessionID; the first
// terminal event for that sessionID — accept, decline, end, or the
// timeout itself — wins, stops the timer, and later events become
// no-ops. Both sides may independently reach "declined"; that is fine.
type Controller struct {
	fan      Broadcaster
	sessions SessionEnder
	log      *slog.Logger
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingInvite
}

func NewController(fan Broadcaster, sessions SessionEnder, log *slog.Logger) *Controller {
	return &Controller{
		fan:      fan,
		sessions: sessions,
		log:      log,
		timeout:  DefaultInviteTimeout,
		pending:  make(map[string]*pendingInvite),
	}
}

// SetInviteTimeout overrides the ring duration.
func (c *Controller) SetInviteTimeout(d time.Duration) { c.timeout = d }

// Invite rings the callee on every connection and arms the
// auto-decline timer. Re-inviting the same session restarts the ring.
func (c *Controller) Invite(ctx context.Context, callerID, calleeID, sessionID, callerName string) error {
	c.push(ctx, calleeID, Event{
		Type:       TypeInvite,
		SessionID:  sessionID,
		SenderID:   callerID,
		SenderName: callerName,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.pending[sessionID]; ok {
		old.timer.Stop()
	}
	c.pending[sessionID] = &pendingInvite{
		callerID:   callerID,
		calleeID:   calleeID,
		callerName: callerName,
		timer: time.AfterFunc(c.timeout, func() {
			c.autoDecline(sessionID)
		}),
	}
	return nil
}

// Accept relays the callee's accept to the caller and disarms the
// timer. The caller reacts by joining the media session; the
// controller itself does not touch session state on accept.
func (c *Controller) Accept(ctx context.Context, calleeID, callerID, sessionID, calleeName string) error {
	c.resolve(sessionID)
	c.push(ctx, callerID, Event{
		Type:       TypeAccept,
		SessionID:  sessionID,
		SenderID:   calleeID,
		SenderName: calleeName,
	})
	return nil
}

// Decline relays the callee's decline and, if this is the first
// terminal event for the invite, releases the reserved media session.
// A decline arriving after an accept already resolved the invite
// changes nothing.
func (c *Controller) Decline(ctx context.Context, calleeID, callerID, sessionID string) error {
	resolved := c.resolve(sessionID)
	c.push(ctx, callerID, Event{
		Type:      TypeDecline,
		SessionID: sessionID,
		SenderID:  calleeID,
	})
	if resolved {
		c.endSession(ctx, sessionID, "declined")
	}
	return nil
}

// End cancels the invite from either side (hang-up before join). Both
// sides treat it as terminal regardless of local timer state.
func (c *Controller) End(ctx context.Context, senderID, recipientID, sessionID string) error {
	resolved := c.resolve(sessionID)
	c.push(ctx, recipientID, Event{
		Type:      TypeEnd,
		SessionID: sessionID,
		SenderID:  senderID,
	})
	if resolved {
		c.endSession(ctx, sessionID, "hangup")
	}
	return nil
}

// HasPending reports whether an invite is still ringing.
func (c *Controller) HasPending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[sessionID]
	return ok
}

// resolve removes the pending invite and stops its timer. Returns
// false when the invite was already resolved (or never existed here),
// which makes every terminal event after the first a no-op.
func (c *Controller) resolve(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[sessionID]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(c.pending, sessionID)
	return true
}

// autoDecline fires when the callee never answered. The decline is
// synthesized toward the caller only; the callee's dialog is left to
// its own device, matching the inviting-side-owns-the-timer design.
func (c *Controller) autoDecline(sessionID string) {
	c.mu.Lock()
	p, ok := c.pending[sessionID]
	if ok {
		delete(c.pending, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return // a terminal event won the race against the timer
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.log.Info("call invite timed out", "session_id", sessionID, "callee_id", p.calleeID)
	c.push(ctx, p.callerID, Event{
		Type:      TypeDecline,
		SessionID: sessionID,
		SenderID:  p.calleeID,
		Auto:      true,
	})
	c.endSession(ctx, sessionID, "timeout")
}

func (c *Controller) push(ctx context.Context, userID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("signal: marshal event", "err", err)
		return
	}
	res := c.fan.Deliver(ctx, fanout.ToUser(userID), payload, fanout.Options{})
	if res.Sent == 0 {
		// Recipient offline is normal; the invite timer covers it.
		c.log.Debug("signal: no reachable connections", "user_id", userID, "type", ev.Type)
	}
}

func (c *Controller) endSession(ctx context.Context, sessionID, reason string) {
	if c.sessions == nil {
		return
	}
	if _, err := c.sessions.End(ctx, sessionID, reason); err != nil {
		c.log.Warn("signal: release session failed", "session_id", sessionID, "err", err)
	}
}
