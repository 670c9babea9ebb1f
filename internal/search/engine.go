package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"supportdraft/internal/domain"
)

const (
	candidatesPerResult = 20
	minCandidates       = 50
)

// Engine ranks chunks from a ChunkSource by blending cosine and trigram similarity
type Engine struct {
	source ChunkSource
}

// NewEngine creates an engine over a read-only chunk source
func NewEngine(source ChunkSource) *Engine {
	return &Engine{source: source}
}

// Search returns up to cfg.K chunks that clear either similarity threshold,
// best first. No eligible chunk is not an error: the result is empty.
func (e *Engine) Search(ctx context.Context, queryText string, queryEmbedding []float32, cfg Config) ([]Result, error) {
	if cfg.K <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfiguration, cfg.K)
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", domain.ErrInvalidInput)
	}

	dim, err := e.source.Dimension(ctx)
	if err != nil {
		return nil, storeError("read embedding dimension", err)
	}
	if dim == 0 {
		return []Result{}, nil
	}
	if dim != len(queryEmbedding) {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, store has %d",
			domain.ErrInvalidInput, len(queryEmbedding), dim)
	}

	limit := cfg.K * candidatesPerResult
	if limit < minCandidates {
		limit = minCandidates
	}
	chunks, err := e.source.Candidates(ctx, queryText, queryEmbedding, limit)
	if err != nil {
		return nil, storeError("load candidates", err)
	}

	return Rank(queryText, queryEmbedding, chunks, cfg), nil
}

// Rank scores chunks against the query and keeps the top cfg.K eligible ones.
// Input order breaks score ties.
func Rank(queryText string, queryEmbedding []float32, chunks []Chunk, cfg Config) []Result {
	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		simVector := CosineSimilarity(queryEmbedding, c.Embedding)
		simTrigram := TrigramSimilarity(queryText, c.Content)
		if simVector < cfg.ThresholdVector && simTrigram < cfg.ThresholdTrigram {
			continue
		}
		results = append(results, Result{
			Chunk:             c,
			SimilarityVector:  simVector,
			SimilarityTrigram: simTrigram,
			FinalScore:        Score(cfg, simVector, simTrigram),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].FinalScore > results[j].FinalScore
	})

	if cfg.K > 0 && len(results) > cfg.K {
		results = results[:cfg.K]
	}
	return results
}

// Score combines the two similarities with the configured weights
func Score(cfg Config, simVector, simTrigram float64) float64 {
	return cfg.WeightVector*simVector + cfg.WeightTrigram*simTrigram
}

func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
