package linkstore

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryCapacity = 1000

// MemoryStore keeps the most recent links in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	links    []Link
	capacity int
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates a store holding at most capacity links.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, l Link) (Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	l.ID = s.nextID
	if l.ReceivedAt.IsZero() {
		l.ReceivedAt = s.now().UTC()
	}
	s.links = append(s.links, l)
	if over := len(s.links) - s.capacity; over > 0 {
		s.links = append([]Link(nil), s.links[over:]...)
	}
	return l, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Link, error) {
	return s.collect(limit, func(Link) bool { return true }), nil
}

func (s *MemoryStore) ForUser(_ context.Context, userID int64, limit int) ([]Link, error) {
	return s.collect(limit, func(l Link) bool { return l.UserID == userID }), nil
}

// collect walks newest first.
func (s *MemoryStore) collect(limit int, keep func(Link) bool) []Link {
	limit = listLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Link
	for i := len(s.links) - 1; i >= 0; i-- {
		if len(out) >= limit {
			break
		}
		if keep(s.links[i]) {
			out = append(out, s.links[i])
		}
	}
	return out
}
