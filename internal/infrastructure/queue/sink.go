package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/vault"
	"github.com/recallhq/recall-server/internal/metrics"
)

// StatusSetter records the outcome of a queued save job.
type StatusSetter interface {
	Set(ctx context.Context, jobID, status string) error
}

// queueSink is the queue-backed JobSink: finalize returns immediately with
// the job id as a poll handle and a worker runs the save pipeline later.
type queueSink struct {
	client   *redis.Client
	queueKey string
	status   StatusSetter
}

// NewSink creates a queue-backed vault.JobSink.
func NewSink(client *redis.Client, queueKey string, status StatusSetter) vault.JobSink {
	return &queueSink{client: client, queueKey: queueKey, status: status}
}

func (s *queueSink) Accept(ctx context.Context, payload vault.SaveJobPayload) (*vault.FinalizeResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal save payload: %w", err)
	}

	// Pending goes in before the push. Written after, it could overwrite the
	// terminal status a fast worker already recorded.
	if s.status != nil {
		if err := s.status.Set(ctx, payload.JobID, vault.StatusPending); err != nil {
			log.Warn().Err(err).Str("job_id", payload.JobID).Msg("Failed to record pending status")
		}
	}

	if err := s.client.LPush(ctx, s.queueKey, data).Err(); err != nil {
		return nil, fmt.Errorf("enqueue save payload: %w", err)
	}

	if depth, err := s.client.LLen(ctx, s.queueKey).Result(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	log.Info().
		Str("job_id", payload.JobID).
		Str("owner_id", payload.OwnerID).
		Int("turns", len(payload.Turns)).
		Msg("Save payload enqueued")

	return &vault.FinalizeResult{JobID: payload.JobID, Async: true}, nil
}
