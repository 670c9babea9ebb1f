package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sashabaranov/go-openai"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
)

// Japanese text runs close to one token per character
const maxInputRunes = 8000

type EmbeddingService struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewEmbeddingService(client *openai.Client, model string) *EmbeddingService {
	return &EmbeddingService{client: client, model: openai.EmbeddingModel(model)}
}

func (e *EmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	input, err := prepareInput(text)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := e.createEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// GenerateEmbeddings embeds a batch; the result is index-aligned with texts
func (e *EmbeddingService) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", domain.ErrInvalidInput)
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		input, err := prepareInput(text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		inputs[i] = input
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := e.createEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}

	return embeddings, nil
}

func (e *EmbeddingService) createEmbeddings(ctx context.Context, inputs []string) (openai.EmbeddingResponse, error) {
	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: e.model,
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.OpenAIAPICalls.WithLabelValues("embedding", status).Inc()
	metrics.OpenAIAPICallDuration.WithLabelValues("embedding").Observe(time.Since(start).Seconds())
	return resp, err
}

func prepareInput(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: input text cannot be empty", domain.ErrInvalidInput)
	}
	return truncateRunes(text, maxInputRunes), nil
}

// truncateRunes cuts text to at most max runes, preferring a whitespace
// boundary within the last 100 runes
func truncateRunes(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	runes = runes[:max]
	for i := len(runes) - 1; i > max-100 && i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return string(runes[:i])
		}
	}
	return string(runes)
}
