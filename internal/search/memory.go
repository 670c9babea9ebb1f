package search

import (
	"context"
	"fmt"
	"sync"

	"supportdraft/internal/domain"
)

// MemoryStore is an append-only in-process chunk source.
// Candidates returns every chunk, so ranking is exact.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks []Chunk
}

// NewMemoryStore creates a store seeded with chunks
func NewMemoryStore(chunks ...Chunk) (*MemoryStore, error) {
	s := &MemoryStore{}
	for _, c := range chunks {
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a chunk. Its embedding must match the length of existing chunks.
func (s *MemoryStore) Add(c Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(c.Embedding) == 0 {
		return fmt.Errorf("%w: chunk %s has no embedding", domain.ErrInvalidInput, c.ID)
	}
	if len(s.chunks) > 0 && len(s.chunks[0].Embedding) != len(c.Embedding) {
		return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d",
			domain.ErrInvalidInput, c.ID, len(c.Embedding), len(s.chunks[0].Embedding))
	}

	emb := make([]float32, len(c.Embedding))
	copy(emb, c.Embedding)
	c.Embedding = emb
	s.chunks = append(s.chunks, c)
	return nil
}

func (s *MemoryStore) Dimension(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 {
		return 0, nil
	}
	return len(s.chunks[0].Embedding), nil
}

func (s *MemoryStore) Candidates(ctx context.Context, queryText string, queryEmbedding []float32, limit int) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out, nil
}

// Len returns the number of stored chunks
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
