package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
	"supportdraft/internal/search"
)

// Searcher ranks FAQ chunks for a query
type Searcher interface {
	Search(ctx context.Context, queryText string, queryEmbedding []float32, cfg search.Config) ([]search.Result, error)
}

// SearchService instruments a Searcher with logs and metrics
type SearchService struct {
	inner Searcher
}

func NewSearchService(inner Searcher) *SearchService {
	return &SearchService{inner: inner}
}

func (s *SearchService) Search(ctx context.Context, queryText string, queryEmbedding []float32, cfg search.Config) ([]search.Result, error) {
	start := time.Now()
	results, err := s.inner.Search(ctx, queryText, queryEmbedding, cfg)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		status := "error"
		if errors.Is(err, domain.ErrStoreUnavailable) {
			status = "unavailable"
		}
		metrics.SearchQueries.WithLabelValues(status).Inc()
		return nil, err
	}

	metrics.SearchQueries.WithLabelValues("success").Inc()
	metrics.SearchResults.Observe(float64(len(results)))

	if len(results) > 0 {
		slog.Debug("Hybrid search completed",
			"results", len(results),
			"top_score", results[0].FinalScore,
			"top_chunk", results[0].Chunk.ID)
	} else {
		slog.Debug("Hybrid search found no eligible chunks")
	}
	return results, nil
}
