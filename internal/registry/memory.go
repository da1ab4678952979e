package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry. Single-node deployments and
// tests use it; it implements the exact same contract as RedisRegistry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	conns  map[string]Connection
	byUser map[string]map[string]struct{}
	byConv map[string]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		conns:  make(map[string]Connection),
		byUser: make(map[string]map[string]struct{}),
		byConv: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, connectionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[connectionID] = Connection{
		ID:            connectionID,
		UserID:        userID,
		EstablishedAt: time.Now().UTC(),
	}
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][connectionID] = struct{}{}
	return nil
}

func (m *MemoryRegistry) UpdateVisibleConversation(ctx context.Context, connectionID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[connectionID]
	if !ok {
		return ErrNotFound
	}
	if old := c.VisibleConversationID; old != "" {
		delete(m.byConv[old], connectionID)
	}
	c.VisibleConversationID = conversationID
	m.conns[connectionID] = c
	if conversationID != "" {
		if m.byConv[conversationID] == nil {
			m.byConv[conversationID] = make(map[string]struct{})
		}
		m.byConv[conversationID][connectionID] = struct{}{}
	}
	return nil
}

func (m *MemoryRegistry) Remove(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[connectionID]
	if !ok {
		return nil
	}
	delete(m.conns, connectionID)
	delete(m.byUser[c.UserID], connectionID)
	if c.VisibleConversationID != "" {
		delete(m.byConv[c.VisibleConversationID], connectionID)
	}
	return nil
}

func (m *MemoryRegistry) FindByConnection(ctx context.Context, connectionID string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conns[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryRegistry) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byUser[userID]), nil
}

func (m *MemoryRegistry) ListByConversation(ctx context.Context, conversationID string) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collect(m.byConv[conversationID]), nil
}

func (m *MemoryRegistry) ListAll(ctx context.Context) ([]Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns, nil
}

func (m *MemoryRegistry) collect(ids map[string]struct{}) []Connection {
	conns := make([]Connection, 0, len(ids))
	for id := range ids {
		if c, ok := m.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}
