package storage

import (
	"context"
	"time"

	"supportdraft/internal/search"
)

// Feedback types recorded from Slack buttons
const (
	FeedbackIgnoreAI           = "ignore_ai"
	FeedbackIgnoreNotification = "ignore_notification"
)

// Feedback is an operator action on a posted draft
type Feedback struct {
	ID              string    `json:"id"`
	FeedbackType    string    `json:"feedback_type"`
	MessageContent  string    `json:"message_content"`
	ChannelioChatID string    `json:"channelio_chat_id,omitempty"` // empty when the button value could not be parsed
	SlackThreadTS   string    `json:"slack_thread_ts"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChunkRepository is the FAQ chunk table as seen by the embedding backfill job
type ChunkRepository interface {
	ChunksWithoutEmbeddings(ctx context.Context, limit int) ([]search.Chunk, error)
	UpdateEmbedding(ctx context.Context, chunkID string, embedding []float32) error
	Stats(ctx context.Context) (total int, withoutEmbeddings int, err error)
}

// FeedbackRepository persists operator feedback
type FeedbackRepository interface {
	InsertFeedback(ctx context.Context, fb *Feedback) error
}
