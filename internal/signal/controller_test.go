package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-signal/internal/fanout"
	"go-signal/internal/session"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeBroadcaster) Deliver(ctx context.Context, sel fanout.Selector, payload []byte, opts fanout.Options) fanout.Result {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return fanout.Result{Sent: 1}
}

func (f *fakeBroadcaster) byType(t string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeEnder struct {
	mu      sync.Mutex
	reasons map[string][]string
}

func newFakeEnder() *fakeEnder {
	return &fakeEnder{reasons: make(map[string][]string)}
}

func (f *fakeEnder) End(ctx context.Context, sessionID, reason string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons[sessionID] = append(f.reasons[sessionID], reason)
	return &session.Session{ID: sessionID, Status: session.StatusCancelled}, nil
}

func (f *fakeEnder) endedWith(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reasons[sessionID]
}

func newTestController() (*Controller, *fakeBroadcaster, *fakeEnder) {
	fan := &fakeBroadcaster{}
	ender := newFakeEnder()
	return NewController(fan, ender, slog.Default()), fan, ender
}

func TestInviteRingsCallee(t *testing.T) {
	c, fan, _ := newTestController()

	c.Invite(context.Background(), "caller", "callee", "s1", "Dr. Ada")

	invites := fan.byType(TypeInvite)
	if len(invites) != 1 {
		t.Fatalf("invites = %d, want 1", len(invites))
	}
	if invites[0].SenderID != "caller" || invites[0].SenderName != "Dr. Ada" || invites[0].SessionID != "s1" {
		t.Errorf("bad invite %+v", invites[0])
	}
	if !c.HasPending("s1") {
		t.Error("invite should be pending until answered")
	}
}

func TestAcceptStopsTimerAndRelaysToCaller(t *testing.T) {
	c, fan, ender := newTestController()
	c.SetInviteTimeout(30 * time.Millisecond)
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	c.Accept(ctx, "callee", "caller", "s1", "Sam")

	if c.HasPending("s1") {
		t.Fatal("accept must resolve the pending invite")
	}

	// Wait past the ring window: the cancelled timer must stay silent.
	time.Sleep(80 * time.Millisecond)
	if got := fan.byType(TypeDecline); len(got) != 0 {
		t.Fatalf("late auto-decline fired after accept: %+v", got)
	}
	if len(ender.endedWith("s1")) != 0 {
		t.Fatal("accept must not release the media session")
	}

	accepts := fan.byType(TypeAccept)
	if len(accepts) != 1 || accepts[0].SenderName != "Sam" {
		t.Fatalf("accepts = %+v, want one from Sam", accepts)
	}
}

func TestDeclineReleasesSession(t *testing.T) {
	c, fan, ender := newTestController()
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	c.Decline(ctx, "callee", "caller", "s1")

	if len(fan.byType(TypeDecline)) != 1 {
		t.Fatal("decline should be relayed to the caller")
	}
	if got := ender.endedWith("s1"); len(got) != 1 || got[0] != "declined" {
		t.Fatalf("session end reasons = %v, want [declined]", got)
	}
}

func TestDeclineAfterAcceptIsNoop(t *testing.T) {
	c, _, ender := newTestController()
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	c.Accept(ctx, "callee", "caller", "s1", "Sam")
	c.Decline(ctx, "callee", "caller", "s1")

	if len(ender.endedWith("s1")) != 0 {
		t.Fatal("a decline after accept must not regress the session")
	}
}

func TestAutoDeclineOnTimeout(t *testing.T) {
	c, fan, ender := newTestController()
	c.SetInviteTimeout(20 * time.Millisecond)

	c.Invite(context.Background(), "caller", "callee", "s1", "Dr. Ada")

	deadline := time.After(2 * time.Second)
	for c.HasPending("s1") {
		select {
		case <-deadline:
			t.Fatal("auto-decline never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	declines := fan.byType(TypeDecline)
	if len(declines) != 1 {
		t.Fatalf("declines = %d, want 1", len(declines))
	}
	if !declines[0].Auto || declines[0].SenderID != "callee" {
		t.Errorf("bad synthesized decline %+v", declines[0])
	}
	if got := ender.endedWith("s1"); len(got) != 1 || got[0] != "timeout" {
		t.Fatalf("session end reasons = %v, want [timeout]", got)
	}
}

func TestEndCancelsInviteFromEitherSide(t *testing.T) {
	c, fan, ender := newTestController()
	c.SetInviteTimeout(30 * time.Millisecond)
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	c.End(ctx, "caller", "callee", "s1") // caller hangs up before answer

	if c.HasPending("s1") {
		t.Fatal("end must resolve the pending invite")
	}
	if len(fan.byType(TypeEnd)) != 1 {
		t.Fatal("end should be relayed to the peer")
	}
	if got := ender.endedWith("s1"); len(got) != 1 || got[0] != "hangup" {
		t.Fatalf("session end reasons = %v, want [hangup]", got)
	}

	time.Sleep(80 * time.Millisecond)
	if len(fan.byType(TypeDecline)) != 0 {
		t.Fatal("timer must stay silent after end")
	}
}

func TestTerminalEventsAfterTimeoutAreNoops(t *testing.T) {
	c, _, ender := newTestController()
	c.SetInviteTimeout(10 * time.Millisecond)
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	time.Sleep(50 * time.Millisecond) // let the auto-decline win

	c.Decline(ctx, "callee", "caller", "s1")
	c.End(ctx, "callee", "caller", "s1")

	if got := ender.endedWith("s1"); len(got) != 1 {
		t.Fatalf("session ended %d times, want exactly once: %v", len(got), got)
	}
}

func TestReinviteRestartsRing(t *testing.T) {
	c, fan, _ := newTestController()
	ctx := context.Background()

	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")
	c.Invite(ctx, "caller", "callee", "s1", "Dr. Ada")

	if len(fan.byType(TypeInvite)) != 2 {
		t.Fatal("both invites should ring")
	}
	if !c.HasPending("s1") {
		t.Fatal("re-invite should leave one pending entry")
	}
	c.Accept(ctx, "callee", "caller", "s1", "Sam")
	if c.HasPending("s1") {
		t.Fatal("accept should clear the re-invited entry")
	}
}
