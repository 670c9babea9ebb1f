package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type FeedbackStore struct {
	db *sql.DB
}

func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// InsertFeedback records an operator action. ID, Status and CreatedAt are
// filled in when empty.
func (s *FeedbackStore) InsertFeedback(ctx context.Context, fb *Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.Status == "" {
		fb.Status = "pending"
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	var chatID sql.NullString
	if fb.ChannelioChatID != "" {
		chatID = sql.NullString{String: fb.ChannelioChatID, Valid: true}
	}

	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slack_feedback (id, feedback_type, message_content, channelio_chat_id, slack_thread_ts, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, fb.ID, fb.FeedbackType, fb.MessageContent, chatID, fb.SlackThreadTS, fb.Status, fb.CreatedAt)
	observe("insert_feedback", start, err)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}
