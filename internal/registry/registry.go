// Package registry tracks live client connections. It is the only
// source of truth for which connections exist, which user owns them,
// and which conversation each connection is currently viewing.
package registry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the caller's connection reference is stale.
	ErrNotFound = errors.New("registry: connection not found")
	// ErrUnavailable means the backing store could not be reached in time.
	// Distinct from ErrNotFound so callers can tell "gone" from "unknown".
	ErrUnavailable = errors.New("registry: store unavailable")
)

// Connection is one live transport-level attachment from a client.
// A user may own several (multi-device). The UserID never changes for
// the lifetime of a connection; VisibleConversationID is mutable and
// only affects conversation-scoped fanout, not identity.
type Connection struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"user_id"`
	VisibleConversationID string    `json:"visible_conversation_id,omitempty"`
	EstablishedAt         time.Time `json:"established_at"`
}

// Registry is the connection index. All methods are safe for
// concurrent use from independent event handlers.
type Registry interface {
	Register(ctx context.Context, connectionID, userID string) error
	UpdateVisibleConversation(ctx context.Context, connectionID, conversationID string) error
	// Remove is idempotent: removing an unknown connection is not an error.
	Remove(ctx context.Context, connectionID string) error
	FindByConnection(ctx context.Context, connectionID string) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListByConversation(ctx context.Context, conversationID string) ([]Connection, error)
	// ListAll is expensive and only meant for rare global broadcasts.
	ListAll(ctx context.Context) ([]Connection, error)
}
