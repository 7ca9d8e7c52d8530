package miniapp

import "sync"

// Screens tracks the live screen of every chat.
type Screens struct {
	mu   sync.RWMutex
	data map[int64]*Screen
}

// NewScreens creates an empty registry.
func NewScreens() *Screens {
	return &Screens{data: make(map[int64]*Screen)}
}

// Get returns the screen of a chat.
func (s *Screens) Get(chatID int64) (*Screen, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.data[chatID]
	return sc, ok
}

// Put stores sc and returns the screen it replaced, if any.
func (s *Screens) Put(chatID int64, sc *Screen) *Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.data[chatID]
	s.data[chatID] = sc
	return prev
}

// Remove drops the chat entry only while it still points at sc.
func (s *Screens) Remove(chatID int64, sc *Screen) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.data[chatID]; !ok || cur != sc {
		return false
	}
	delete(s.data, chatID)
	return true
}

// Len returns the number of live screens.
func (s *Screens) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Drain empties the registry and returns what it held.
func (s *Screens) Drain() []*Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Screen, 0, len(s.data))
	for id, sc := range s.data {
		out = append(out, sc)
		delete(s.data, id)
	}
	return out
}
