// Package transport pushes event payloads to individual connections.
// It distinguishes "recipient gone" from transient delivery problems so
// the fanout engine knows when to prune a registry entry.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrGone means the connection no longer exists on this node.
	ErrGone = errors.New("transport: recipient gone")
	// ErrSlowConsumer means the connection's outbound buffer is full.
	// The connection stays registered; the payload is dropped.
	ErrSlowConsumer = errors.New("transport: outbound buffer full")
)

// Pusher attempts exactly one push of a payload to a connection.
type Pusher interface {
	Push(ctx context.Context, connectionID string, payload []byte) error
}

// Outbox is the write side of one attached connection. The websocket
// client implements it; Enqueue must never block.
type Outbox interface {
	Enqueue(payload []byte) error
}

// Table holds the connections attached to this node. The shared
// registry knows every connection in the cluster; the table knows only
// the ones whose socket terminates here.
type Table struct {
	mu    sync.RWMutex
	conns map[string]Outbox
}

func NewTable() *Table {
	return &Table{conns: make(map[string]Outbox)}
}

func (t *Table) Attach(connectionID string, out Outbox) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connectionID] = out
}

func (t *Table) Detach(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connectionID)
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Push delivers to a locally attached connection. A missing connection
// is reported as ErrGone: the registry said it exists, this node says
// it does not, so either it lives on another node (the relay handles
// that) or it is truly dead and should be pruned.
func (t *Table) Push(ctx context.Context, connectionID string, payload []byte) error {
	t.mu.RLock()
	out, ok := t.conns[connectionID]
	t.mu.RUnlock()

	if !ok {
		return ErrGone
	}
	return out.Enqueue(payload)
}
