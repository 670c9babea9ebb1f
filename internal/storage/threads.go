package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"supportdraft/internal/threads"
)

// ThreadStore persists thread bindings in the slack_thread_store table
type ThreadStore struct {
	db *sql.DB
}

func NewThreadStore(db *sql.DB) *ThreadStore {
	return &ThreadStore{db: db}
}

func (s *ThreadStore) Active(ctx context.Context, conversationID string, now time.Time) (*threads.Binding, error) {
	start := time.Now()

	var b threads.Binding
	err := s.db.QueryRowContext(ctx, `
		SELECT channelio_chat_id, slack_thread_ts, last_updated_at, expires_at
		FROM slack_thread_store
		WHERE channelio_chat_id = $1 AND expires_at > $2
		ORDER BY last_updated_at DESC
		LIMIT 1
	`, conversationID, now).Scan(&b.ConversationID, &b.ThreadHandle, &b.LastUpdatedAt, &b.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		observe("thread_lookup", start, nil)
		return nil, nil
	}
	observe("thread_lookup", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query thread binding: %w", err)
	}
	return &b, nil
}

func (s *ThreadStore) Upsert(ctx context.Context, b threads.Binding) error {
	start := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO slack_thread_store (channelio_chat_id, slack_thread_ts, last_updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channelio_chat_id) DO UPDATE SET
			slack_thread_ts = EXCLUDED.slack_thread_ts,
			last_updated_at = EXCLUDED.last_updated_at,
			expires_at = EXCLUDED.expires_at
	`, b.ConversationID, b.ThreadHandle, b.LastUpdatedAt, b.ExpiresAt)
	observe("thread_upsert", start, err)
	if err != nil {
		return fmt.Errorf("failed to upsert thread binding: %w", err)
	}
	return nil
}
