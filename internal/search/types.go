package search

import (
	"context"
	"fmt"
	"math"

	"supportdraft/internal/domain"
)

// Chunk is a retrievable unit of FAQ text with a precomputed embedding
type Chunk struct {
	ID        string    `json:"id"`
	Question  string    `json:"question,omitempty"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// Result is a chunk scored against one query
type Result struct {
	Chunk             Chunk   `json:"chunk"`
	SimilarityVector  float64 `json:"similarity_vector"`
	SimilarityTrigram float64 `json:"similarity_trigram"`
	FinalScore        float64 `json:"final_score"`
}

// Config holds the ranking policy. It is passed explicitly to every search.
type Config struct {
	K                int     `toml:"k"`
	ThresholdVector  float64 `toml:"threshold_vector"`
	ThresholdTrigram float64 `toml:"threshold_trigram"`
	WeightVector     float64 `toml:"weight_vector"`
	WeightTrigram    float64 `toml:"weight_trigram"`
}

// DefaultConfig mirrors the values the support team tuned against the FAQ set
func DefaultConfig() Config {
	return Config{
		K:                3,
		ThresholdVector:  0.7,
		ThresholdTrigram: 0.1,
		WeightVector:     0.6,
		WeightTrigram:    0.4,
	}
}

// Validate checks the policy. All failures wrap domain.ErrConfiguration.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", domain.ErrConfiguration, c.K)
	}
	for name, v := range map[string]float64{
		"threshold_vector":  c.ThresholdVector,
		"threshold_trigram": c.ThresholdTrigram,
		"weight_vector":     c.WeightVector,
		"weight_trigram":    c.WeightTrigram,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", domain.ErrConfiguration, name)
		}
	}
	if c.WeightVector < 0 || c.WeightTrigram < 0 {
		return fmt.Errorf("%w: weights must not be negative", domain.ErrConfiguration)
	}
	if c.WeightVector == 0 && c.WeightTrigram == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", domain.ErrConfiguration)
	}
	if c.ThresholdVector < -1 || c.ThresholdVector > 1 {
		return fmt.Errorf("%w: threshold_vector must be within [-1, 1]", domain.ErrConfiguration)
	}
	if c.ThresholdTrigram < 0 || c.ThresholdTrigram > 1 {
		return fmt.Errorf("%w: threshold_trigram must be within [0, 1]", domain.ErrConfiguration)
	}
	return nil
}

// ChunkSource is the read-only view of the embedding store the engine needs
type ChunkSource interface {
	// Dimension returns the embedding length of stored chunks, or 0 when the store is empty
	Dimension(ctx context.Context) (int, error)
	// Candidates returns chunks worth scoring for the query, in stable id order.
	// limit is a hint; stores that hold few chunks may return all of them.
	Candidates(ctx context.Context, queryText string, queryEmbedding []float32, limit int) ([]Chunk, error)
}
