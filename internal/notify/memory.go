package notify

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used by tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Notification)}
}

func (s *MemoryStore) Create(ctx context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[n.ID] = *n
	return nil
}

func (s *MemoryStore) FindRecent(ctx context.Context, userID string, t Type, relatedID string, since time.Time) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *Notification
	for _, n := range s.records {
		if n.UserID != userID || n.Type != t || n.RelatedID != relatedID {
			continue
		}
		if n.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || n.CreatedAt.After(newest.CreatedAt) {
			cp := n
			newest = &cp
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []Notification
	for _, n := range s.records {
		if n.UserID == userID && n.ExpiresAt.After(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.records[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Unread = false
	s.records[id] = n
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.records {
		if !n.ExpiresAt.After(now) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored records (test helper).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
