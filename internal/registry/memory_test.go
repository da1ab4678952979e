package registry

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndFind(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	if err := reg.Register(ctx, "c1", "u1"); err != nil {
		t.Fatalf("register: %v", err)
	}

	c, err := reg.FindByConnection(ctx, "c1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c.UserID != "u1" {
		t.Errorf("user = %q, want u1", c.UserID)
	}
	if c.EstablishedAt.IsZero() {
		t.Error("established_at not set")
	}
}

func TestFindUnknownConnection(t *testing.T) {
	reg := NewMemoryRegistry()
	_, err := reg.FindByConnection(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMultiDeviceListByUser(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u1")
	reg.Register(ctx, "c3", "u2")

	conns, err := reg.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}
	for _, c := range conns {
		if c.UserID != "u1" {
			t.Errorf("connection %s belongs to %s", c.ID, c.UserID)
		}
	}
}

func TestVisibleConversationIndex(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u2")

	if err := reg.UpdateVisibleConversation(ctx, "c1", "conv-9"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := reg.UpdateVisibleConversation(ctx, "c2", "conv-9"); err != nil {
		t.Fatalf("update: %v", err)
	}

	conns, _ := reg.ListByConversation(ctx, "conv-9")
	if len(conns) != 2 {
		t.Fatalf("got %d connections in conv-9, want 2", len(conns))
	}

	// Switching conversations must drop the old index entry.
	reg.UpdateVisibleConversation(ctx, "c1", "conv-10")
	conns, _ = reg.ListByConversation(ctx, "conv-9")
	if len(conns) != 1 {
		t.Fatalf("got %d connections in conv-9 after switch, want 1", len(conns))
	}
}

func TestUpdateVisibleConversationUnknown(t *testing.T) {
	reg := NewMemoryRegistry()
	err := reg.UpdateVisibleConversation(context.Background(), "ghost", "conv-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.UpdateVisibleConversation(ctx, "c1", "conv-1")

	if err := reg.Remove(ctx, "c1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := reg.Remove(ctx, "c1"); err != nil {
		t.Fatalf("second remove: %v", err)
	}

	if _, err := reg.FindByConnection(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("find after remove = %v, want ErrNotFound", err)
	}
	if conns, _ := reg.ListByUser(ctx, "u1"); len(conns) != 0 {
		t.Errorf("user index still has %d entries", len(conns))
	}
	if conns, _ := reg.ListByConversation(ctx, "conv-1"); len(conns) != 0 {
		t.Errorf("conversation index still has %d entries", len(conns))
	}
}

func TestListAll(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	reg.Register(ctx, "c1", "u1")
	reg.Register(ctx, "c2", "u2")

	conns, err := reg.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}
}
