package threads

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps bindings in process. Used in tests and single-replica setups.
type MemoryStore struct {
	mu       sync.Mutex
	bindings map[string]Binding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bindings: make(map[string]Binding)}
}

func (s *MemoryStore) Active(ctx context.Context, conversationID string, now time.Time) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[conversationID]
	if !ok || !b.Active(now) {
		return nil, nil
	}
	return &b, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bindings[b.ConversationID] = b
	return nil
}

// Get returns the stored binding regardless of expiry
func (s *MemoryStore) Get(conversationID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[conversationID]
	return b, ok
}
