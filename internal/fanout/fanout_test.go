package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go-signal/internal/registry"
	"go-signal/internal/transport"
)

// fakePusher records pushes and fails specific connections on demand.
type fakePusher struct {
	mu     sync.Mutex
	pushed map[string][][]byte
	errs   map[string]error
}

func newFakePusher() *fakePusher {
	return &fakePusher{pushed: make(map[string][][]byte), errs: make(map[string]error)}
}

func (p *fakePusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[connectionID]; ok {
		return err
	}
	p.pushed[connectionID] = append(p.pushed[connectionID], payload)
	return nil
}

func (p *fakePusher) count(connectionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed[connectionID])
}

func newTestEngine(t *testing.T) (*Engine, *registry.MemoryRegistry, *fakePusher) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	push := newFakePusher()
	return NewEngine(reg, push, slog.Default()), reg, push
}

func TestDeliverReachesEveryConnectionOfUser(t *testing.T) {
	eng, reg, push := newTestEngine(t)
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u1")
	reg.Register(ctx, "c3", "u2")

	res := eng.Deliver(ctx, ToUser("u1"), []byte("hello"), Options{})

	if res.Sent != 2 {
		t.Fatalf("sent = %d, want 2", res.Sent)
	}
	if push.count("c1") != 1 || push.count("c2") != 1 {
		t.Error("both of u1's connections should receive the payload")
	}
	if push.count("c3") != 0 {
		t.Error("u2's connection must not receive the payload")
	}
}

func TestDeliverToNobodyIsNotAnError(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	res := eng.Deliver(context.Background(), ToUser("offline-user"), []byte("hi"), Options{})

	if res.Sent != 0 {
		t.Errorf("sent = %d, want 0", res.Sent)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}
}

func TestGonePushPrunesRegistry(t *testing.T) {
	eng, reg, push := newTestEngine(t)
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u1")
	push.errs["c2"] = transport.ErrGone

	res := eng.Deliver(ctx, ToUser("u1"), []byte("hi"), Options{})

	if res.Sent != 1 {
		t.Errorf("sent = %d, want 1", res.Sent)
	}
	if len(res.Pruned) != 1 || res.Pruned[0] != "c2" {
		t.Fatalf("pruned = %v, want [c2]", res.Pruned)
	}
	if len(res.Errors) != 0 {
		t.Errorf("gone is pruning, not an error: %v", res.Errors)
	}
	if _, err := reg.FindByConnection(ctx, "c2"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("c2 should be pruned from the registry, got %v", err)
	}
}

type recordingPruner struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPruner) HandleDisconnect(ctx context.Context, connectionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, connectionID)
	return nil
}

func (p *recordingPruner) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// blockingPusher holds successful pushes until released, so a test can
// observe what Deliver does while deliveries are still in flight.
type blockingPusher struct {
	release chan struct{}
	errs    map[string]error
}

func (p *blockingPusher) Push(ctx context.Context, connectionID string, payload []byte) error {
	if err, ok := p.errs[connectionID]; ok {
		return err
	}
	<-p.release
	return nil
}

func TestPruneRunsAfterDeliveriesAreRecorded(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	push := &blockingPusher{
		release: make(chan struct{}),
		errs:    map[string]error{"c1": transport.ErrGone},
	}
	eng := NewEngine(reg, push, slog.Default())
	pruner := &recordingPruner{}
	eng.SetPruner(pruner)

	ctx := context.Background()
	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u1")

	done := make(chan Result, 1)
	go func() { done <- eng.Deliver(ctx, ToUser("u1"), []byte("hi"), Options{}) }()

	// c1's gone outcome is known immediately, but the prune is a
	// registry round-trip and must not start while c2 is in flight.
	time.Sleep(20 * time.Millisecond)
	if n := pruner.calls(); n != 0 {
		t.Fatalf("prunes while deliveries in flight = %d, want 0", n)
	}

	close(push.release)
	res := <-done

	if res.Sent != 1 {
		t.Errorf("sent = %d, want 1", res.Sent)
	}
	if len(res.Pruned) != 1 || res.Pruned[0] != "c1" {
		t.Fatalf("pruned = %v, want [c1]", res.Pruned)
	}
	if n := pruner.calls(); n != 1 {
		t.Errorf("pruner calls = %d, want 1", n)
	}
}

func TestTransientFailureLeavesConnectionIntact(t *testing.T) {
	eng, reg, push := newTestEngine(t)
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	push.errs["c1"] = transport.ErrSlowConsumer

	res := eng.Deliver(ctx, ToUser("u1"), []byte("hi"), Options{})

	if len(res.Errors) != 1 || res.Errors[0].ConnectionID != "c1" {
		t.Fatalf("errors = %v, want one for c1", res.Errors)
	}
	if len(res.Pruned) != 0 {
		t.Errorf("pruned = %v, want none", res.Pruned)
	}
	if _, err := reg.FindByConnection(ctx, "c1"); err != nil {
		t.Errorf("c1 must stay registered after a transient failure: %v", err)
	}
}

func TestExcludeUserSkipsSenderEcho(t *testing.T) {
	eng, reg, push := newTestEngine(t)
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u2")
	reg.UpdateVisibleConversation(ctx, "c1", "conv-1")
	reg.UpdateVisibleConversation(ctx, "c2", "conv-1")

	res := eng.Deliver(ctx, ToConversation("conv-1"), []byte("hi"), Options{ExcludeUser: "u1"})

	if res.Sent != 1 {
		t.Fatalf("sent = %d, want 1", res.Sent)
	}
	if push.count("c1") != 0 {
		t.Error("sender's own connection must not receive the echo")
	}
	if push.count("c2") != 1 {
		t.Error("the other participant should receive the payload")
	}
}

func TestExplicitSetSkipsStaleReferences(t *testing.T) {
	eng, reg, push := newTestEngine(t)
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")

	res := eng.Deliver(ctx, ToConnections("c1", "stale"), []byte("hi"), Options{})

	if res.Sent != 1 {
		t.Fatalf("sent = %d, want 1", res.Sent)
	}
	if push.count("c1") != 1 {
		t.Error("live connection should receive the payload")
	}
	if len(res.Errors) != 0 {
		t.Errorf("a stale explicit reference is not an error: %v", res.Errors)
	}
}
