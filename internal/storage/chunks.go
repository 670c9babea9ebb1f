package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"supportdraft/internal/search"
)

// ChunkStore reads FAQ chunks from Postgres. It serves the search engine and
// the embedding backfill job.
type ChunkStore struct {
	db *sql.DB

	mu        sync.Mutex
	dimension int
}

func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Dimension returns the embedding length shared by stored chunks, or 0 when
// no chunk has an embedding yet
func (s *ChunkStore) Dimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension > 0 {
		return s.dimension, nil
	}

	start := time.Now()
	var dim int
	err := s.db.QueryRowContext(ctx,
		"SELECT vector_dims(embedding) FROM faq_chunks WHERE embedding IS NOT NULL LIMIT 1",
	).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		observe("chunk_dimension", start, nil)
		return 0, nil
	}
	observe("chunk_dimension", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}

	s.dimension = dim
	return dim, nil
}

// Candidates prefilters the chunk table to the nearest neighbours by cosine
// distance unioned with the closest trigram matches. Exact scoring happens in
// the search engine.
func (s *ChunkStore) Candidates(ctx context.Context, queryText string, queryEmbedding []float32, limit int) ([]search.Chunk, error) {
	start := time.Now()

	query := `
		WITH by_vector AS (
			SELECT id FROM faq_chunks
			WHERE embedding IS NOT NULL
			ORDER BY embedding <=> $1
			LIMIT $3
		), by_trigram AS (
			SELECT id FROM faq_chunks
			WHERE embedding IS NOT NULL AND similarity(content, $2) > 0
			ORDER BY similarity(content, $2) DESC
			LIMIT $3
		)
		SELECT c.id, COALESCE(c.question, ''), c.content, c.embedding
		FROM faq_chunks c
		WHERE c.id IN (SELECT id FROM by_vector UNION SELECT id FROM by_trigram)
		ORDER BY c.id
	`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(queryEmbedding), queryText, limit)
	if err != nil {
		observe("chunk_candidates", start, err)
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows, true)
	observe("chunk_candidates", start, err)
	return chunks, err
}

// ChunksWithoutEmbeddings returns chunks the backfill job still has to embed
func (s *ChunkStore) ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]search.Chunk, error) {
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(question, ''), content
		FROM faq_chunks
		WHERE embedding IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		observe("chunks_without_embeddings", start, err)
		return nil, fmt.Errorf("failed to query chunks without embeddings: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunks(rows, false)
	observe("chunks_without_embeddings", start, err)
	return chunks, err
}

// UpdateEmbedding stores the embedding for one chunk
func (s *ChunkStore) UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	id, err := strconv.ParseInt(chunkID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chunk id %q: %w", chunkID, err)
	}

	start := time.Now()
	_, err = s.db.ExecContext(ctx,
		"UPDATE faq_chunks SET embedding = $1 WHERE id = $2",
		pgvector.NewVector(embedding), id,
	)
	observe("update_embedding", start, err)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}

// Stats counts all chunks and those still missing an embedding
func (s *ChunkStore) Stats(ctx context.Context) (int, int, error) {
	start := time.Now()

	var total, missing int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(*) FILTER (WHERE embedding IS NULL) FROM faq_chunks",
	).Scan(&total, &missing)
	observe("chunk_stats", start, err)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return total, missing, nil
}

func scanChunks(rows *sql.Rows, withEmbedding bool) ([]search.Chunk, error) {
	var chunks []search.Chunk
	for rows.Next() {
		var (
			id  int64
			c   search.Chunk
			vec pgvector.Vector
			err error
		)
		if withEmbedding {
			err = rows.Scan(&id, &c.Question, &c.Content, &vec)
		} else {
			err = rows.Scan(&id, &c.Question, &c.Content)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.ID = strconv.FormatInt(id, 10)
		if withEmbedding {
			c.Embedding = vec.Slice()
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}
