package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-signal/internal/fanout"
	"go-signal/internal/registry"
	"go-signal/internal/transport"
)

type fakeBroadcaster struct {
	mu       sync.Mutex
	payloads [][]byte
	opts     []fanout.Options
}

func (f *fakeBroadcaster) Deliver(ctx context.Context, sel fanout.Selector, payload []byte, opts fanout.Options) fanout.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	f.opts = append(f.opts, opts)
	return fanout.Result{Sent: 1}
}

func (f *fakeBroadcaster) deliveries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeLastSeen struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeLastSeen) MarkOffline(userID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
}

func (f *fakeLastSeen) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func newTestTracker() (*Tracker, *registry.MemoryRegistry, *fakeBroadcaster, *fakeLastSeen) {
	reg := registry.NewMemoryRegistry()
	fan := &fakeBroadcaster{}
	seen := &fakeLastSeen{}
	return NewTracker(reg, fan, seen, slog.Default()), reg, fan, seen
}

func TestOfflineOnlyWhenLastConnectionDrops(t *testing.T) {
	tracker, reg, fan, seen := newTestTracker()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u1")
	reg.UpdateVisibleConversation(ctx, "c1", "conv-1")
	reg.UpdateVisibleConversation(ctx, "c2", "conv-1")

	// First device drops: still online via the second one.
	if err := tracker.HandleDisconnect(ctx, "c1"); err != nil {
		t.Fatalf("disconnect c1: %v", err)
	}
	if fan.deliveries() != 0 {
		t.Fatal("no offline broadcast while another device remains")
	}
	if seen.calls() != 0 {
		t.Fatal("last-seen must not be marked while still online")
	}

	// Second device drops: now the user is offline.
	if err := tracker.HandleDisconnect(ctx, "c2"); err != nil {
		t.Fatalf("disconnect c2: %v", err)
	}
	if fan.deliveries() != 1 {
		t.Fatalf("broadcasts = %d, want exactly 1", fan.deliveries())
	}
	if seen.calls() != 1 {
		t.Fatalf("last-seen marks = %d, want exactly 1", seen.calls())
	}

	var ev Event
	if err := json.Unmarshal(fan.payloads[0], &ev); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ev.Type != "presence" || ev.UserID != "u1" || ev.Online {
		t.Errorf("unexpected event %+v", ev)
	}
	if fan.opts[0].ExcludeUser != "u1" {
		t.Error("offline broadcast should not echo to the leaving user")
	}
}

// gonePusher fails every push the way a closed socket does.
type gonePusher struct{}

func (gonePusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	return transport.ErrGone
}

func TestFanoutPruneTakesOfflinePath(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	fan := &fakeBroadcaster{}
	seen := &fakeLastSeen{}
	tracker := NewTracker(reg, fan, seen, slog.Default())

	eng := fanout.NewEngine(reg, gonePusher{}, slog.Default())
	eng.SetPruner(tracker)

	ctx := context.Background()
	reg.Register(ctx, "c1", "u1")
	reg.UpdateVisibleConversation(ctx, "c1", "conv-1")

	// The socket died without an orderly disconnect; the fanout engine
	// is the first to notice.
	res := eng.Deliver(ctx, fanout.ToUser("u1"), []byte("hi"), fanout.Options{})
	if len(res.Pruned) != 1 {
		t.Fatalf("pruned = %v, want [c1]", res.Pruned)
	}

	if seen.calls() != 1 {
		t.Fatalf("last-seen marks = %d, want 1: offline lost after fanout prune", seen.calls())
	}
	if fan.deliveries() != 1 {
		t.Fatalf("offline broadcasts = %d, want 1", fan.deliveries())
	}
	if _, err := reg.FindByConnection(ctx, "c1"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("c1 should be pruned from the registry, got %v", err)
	}

	// The read pump's own disconnect arrives afterwards and must not
	// announce offline a second time.
	if err := tracker.HandleDisconnect(ctx, "c1"); err != nil {
		t.Fatalf("late disconnect: %v", err)
	}
	if seen.calls() != 1 || fan.deliveries() != 1 {
		t.Error("offline must be announced exactly once")
	}
}

func TestDisconnectUnknownConnectionIsNoop(t *testing.T) {
	tracker, _, fan, seen := newTestTracker()

	if err := tracker.HandleDisconnect(context.Background(), "ghost"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if fan.deliveries() != 0 || seen.calls() != 0 {
		t.Error("stale disconnects must have no side effects")
	}
}

func TestNoBroadcastWithoutVisibleConversation(t *testing.T) {
	tracker, reg, fan, seen := newTestTracker()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")

	if err := tracker.HandleDisconnect(ctx, "c1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if fan.deliveries() != 0 {
		t.Error("no interested parties known, nothing to broadcast")
	}
	if seen.calls() != 1 {
		t.Error("last-seen is recorded regardless of broadcast")
	}
}
