// Package redis implements the batch store port on Redis. Sessions are
// short-lived lists keyed per sender; dedup markers are SETNX sentinels
// keyed per batch.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palettebot/server/internal/model"
	"github.com/palettebot/server/internal/shared/config"
)

const (
	sessionURLsKey = "batch:session:%d:urls"
	sessionIDKey   = "batch:session:%d:id"
	dedupKey       = "batch:dispatched:%s"
)

// BatchStore holds media batch sessions and dispatch dedup markers.
type BatchStore struct {
	client     *redis.Client
	sessionTTL time.Duration
	dedupTTL   time.Duration
}

// NewBatchStore creates a batch store.
func NewBatchStore(client *redis.Client, cfg config.BatchConfig) *BatchStore {
	return &BatchStore{
		client:     client,
		sessionTTL: cfg.SessionTTL,
		dedupTTL:   cfg.DedupTTL,
	}
}

// Append adds an image URL to the sender's session, refreshing its TTL so
// a batch stays alive while its photos trickle in.
func (s *BatchStore) Append(ctx context.Context, userID int64, batchID, imageURL string) error {
	urlsKey := fmt.Sprintf(sessionURLsKey, userID)
	idKey := fmt.Sprintf(sessionIDKey, userID)

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, urlsKey, imageURL)
	pipe.Expire(ctx, urlsKey, s.sessionTTL)
	if batchID != "" {
		pipe.Set(ctx, idKey, batchID, s.sessionTTL)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("append batch image for user %d: %w", userID, err)
	}
	return nil
}

// Take loads and clears the sender's session. Returns nil when no session
// exists, including when it expired between photos and caption.
func (s *BatchStore) Take(ctx context.Context, userID int64) (*model.BatchSession, error) {
	urlsKey := fmt.Sprintf(sessionURLsKey, userID)
	idKey := fmt.Sprintf(sessionIDKey, userID)

	pipe := s.client.TxPipeline()
	urlsCmd := pipe.LRange(ctx, urlsKey, 0, -1)
	idCmd := pipe.Get(ctx, idKey)
	pipe.Del(ctx, urlsKey, idKey)
	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("take batch session for user %d: %w", userID, err)
	}

	urls := urlsCmd.Val()
	if len(urls) == 0 {
		return nil, nil
	}
	return &model.BatchSession{
		BatchID:   idCmd.Val(), // empty when the key was missing
		ImageURLs: urls,
	}, nil
}

// MarkDispatched writes the dedup marker for a batch. The SETNX result
// distinguishes the first dispatch from a replayed delivery.
func (s *BatchStore) MarkDispatched(ctx context.Context, batchID string) (bool, error) {
	key := fmt.Sprintf(dedupKey, batchID)
	fresh, err := s.client.SetNX(ctx, key, "1", s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark batch %s dispatched: %w", batchID, err)
	}
	return fresh, nil
}
