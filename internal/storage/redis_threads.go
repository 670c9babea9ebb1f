package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"supportdraft/internal/threads"
)

const threadKeyPrefix = "supportdraft:thread:"

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// RedisThreadStore keeps thread bindings as JSON values. Keys outlive the
// binding's expiry by the retention period so expired bindings stay readable
// for debugging before Redis evicts them.
type RedisThreadStore struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisThreadStore(client redis.Cmdable, retention time.Duration) *RedisThreadStore {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &RedisThreadStore{client: client, retention: retention}
}

func threadKey(conversationID string) string {
	return threadKeyPrefix + conversationID
}

func (s *RedisThreadStore) Active(ctx context.Context, conversationID string, now time.Time) (*threads.Binding, error) {
	start := time.Now()

	data, err := s.client.Get(ctx, threadKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		observe("thread_lookup", start, nil)
		return nil, nil
	}
	observe("thread_lookup", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread binding: %w", err)
	}

	var b threads.Binding
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode thread binding: %w", err)
	}
	if !b.Active(now) {
		return nil, nil
	}
	return &b, nil
}

func (s *RedisThreadStore) Upsert(ctx context.Context, b threads.Binding) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode thread binding: %w", err)
	}

	keep := b.ExpiresAt.Sub(b.LastUpdatedAt)
	if keep < 0 {
		keep = 0
	}
	keep += s.retention

	start := time.Now()
	err = s.client.Set(ctx, threadKey(b.ConversationID), data, keep).Err()
	observe("thread_upsert", start, err)
	if err != nil {
		return fmt.Errorf("failed to set thread binding: %w", err)
	}
	return nil
}
