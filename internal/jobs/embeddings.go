package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"supportdraft/internal/metrics"
	"supportdraft/internal/search"
	"supportdraft/internal/storage"
)

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingProcessor fills in embeddings for FAQ chunks loaded without one
type EmbeddingProcessor struct {
	store      storage.ChunkRepository
	embedder   Embedder
	dimensions int
	batchSize  int
	interval   time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

func NewEmbeddingProcessor(store storage.ChunkRepository, embedder Embedder, dimensions int, interval time.Duration) *EmbeddingProcessor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &EmbeddingProcessor{
		store:      store,
		embedder:   embedder,
		dimensions: dimensions,
		batchSize:  20,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Start runs a batch immediately and then on every tick until ctx is done or Stop is called
func (e *EmbeddingProcessor) Start(ctx context.Context) {
	slog.Info("Starting embedding backfill",
		slog.Int("batch_size", e.batchSize),
		slog.Duration("interval", e.interval))

	if _, err := e.ProcessBatch(ctx); err != nil {
		slog.Error("Error processing embedding batch", "error", err)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Embedding backfill stopped due to context cancellation")
			return
		case <-e.done:
			slog.Info("Embedding backfill stopped")
			return
		case <-ticker.C:
			if _, err := e.ProcessBatch(ctx); err != nil {
				slog.Error("Error processing embedding batch", "error", err)
			}
		}
	}
}

func (e *EmbeddingProcessor) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// ProcessBatch embeds one batch of chunks and returns how many were stored
func (e *EmbeddingProcessor) ProcessBatch(ctx context.Context) (int, error) {
	start := time.Now()

	chunks, err := e.store.ChunksWithoutEmbeddings(ctx, e.batchSize)
	if err != nil {
		metrics.EmbeddingGenerations.WithLabelValues("error").Inc()
		return 0, err
	}

	if len(chunks) == 0 {
		slog.Debug("No chunks found without embeddings")
		return 0, nil
	}

	slog.Info("Processing embedding batch", slog.Int("chunk_count", len(chunks)))

	successCount := 0
	for _, chunk := range chunks {
		if err := e.processChunk(ctx, chunk); err != nil {
			slog.Error("Error processing chunk embedding",
				slog.String("chunk_id", chunk.ID),
				slog.String("error", err.Error()))
			metrics.EmbeddingGenerations.WithLabelValues("error").Inc()
			continue
		}
		successCount++
		metrics.EmbeddingGenerations.WithLabelValues("success").Inc()
	}

	duration := time.Since(start)
	metrics.EmbeddingGenerationDuration.Observe(duration.Seconds())

	slog.Info("Completed embedding batch",
		slog.Int("processed", successCount),
		slog.Int("total", len(chunks)),
		slog.Duration("duration", duration))

	return successCount, nil
}

func (e *EmbeddingProcessor) processChunk(ctx context.Context, chunk search.Chunk) error {
	content := ChunkText(chunk)

	// a zero vector marks blank chunks as processed; it never passes the vector threshold
	if content == "" {
		slog.Warn("Marking chunk with empty content", slog.String("chunk_id", chunk.ID))
		return e.store.UpdateEmbedding(ctx, chunk.ID, make([]float32, e.dimensions))
	}

	embedding, err := e.embedder.GenerateEmbedding(ctx, content)
	if err != nil {
		return err
	}

	return e.store.UpdateEmbedding(ctx, chunk.ID, embedding)
}

// ChunkText is the text embedded for a chunk: its question, when present, followed by the answer
func ChunkText(chunk search.Chunk) string {
	question := strings.TrimSpace(chunk.Question)
	content := strings.TrimSpace(chunk.Content)
	switch {
	case question == "":
		return content
	case content == "":
		return question
	default:
		return question + "\n" + content
	}
}

// GetStats refreshes the chunk gauges and returns them
func (e *EmbeddingProcessor) GetStats(ctx context.Context) (map[string]interface{}, error) {
	total, withoutEmbeddings, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	metrics.TotalChunks.Set(float64(total))
	metrics.ChunksWithoutEmbeddings.Set(float64(withoutEmbeddings))

	return map[string]interface{}{
		"total_chunks":              total,
		"chunks_without_embeddings": withoutEmbeddings,
		"batch_size":                e.batchSize,
		"processing_interval":       e.interval.String(),
	}, nil
}

// SetBatchSize updates the batch size for processing
func (e *EmbeddingProcessor) SetBatchSize(size int) {
	if size > 0 && size <= 1000 {
		e.batchSize = size
		slog.Info("Updated embedding backfill batch size", slog.Int("new_size", size))
	}
}
