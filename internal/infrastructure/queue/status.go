package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recallhq/recall-server/internal/domain/vault"
)

// StatusTracker records the outcome of queued save jobs under short-TTL
// keys. Once the TTL elapses the key is gone and the status reads as
// expired regardless of the true outcome; callers treat that as
// inconclusive, not as failure.
type StatusTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusTracker(client *redis.Client, ttl time.Duration) *StatusTracker {
	return &StatusTracker{client: client, ttl: ttl}
}

func statusKey(jobID string) string {
	return "recall:save_status:" + jobID
}

func (t *StatusTracker) Set(ctx context.Context, jobID, status string) error {
	if err := t.client.Set(ctx, statusKey(jobID), status, t.ttl).Err(); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

func (t *StatusTracker) Get(ctx context.Context, jobID string) (string, error) {
	status, err := t.client.Get(ctx, statusKey(jobID)).Result()
	if err == redis.Nil {
		return vault.StatusExpired, nil
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}
