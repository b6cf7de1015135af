package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/vault"
)

// Saver is the slice of the vault service the worker needs.
type Saver interface {
	Save(ctx context.Context, req vault.SaveRequest) (*vault.SaveResult, error)
}

// Worker drains the save queue and runs each payload through the save
// pipeline, recording the outcome in the status tracker.
type Worker struct {
	client   *redis.Client
	queueKey string
	saver    Saver
	status   StatusSetter
}

func NewWorker(client *redis.Client, queueKey string, saver Saver, status StatusSetter) *Worker {
	return &Worker{
		client:   client,
		queueKey: queueKey,
		saver:    saver,
		status:   status,
	}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Info().Str("queue", w.queueKey).Msg("Save queue worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Save queue worker stopped")
			return
		}

		res, err := w.client.BRPop(ctx, 5*time.Second, w.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Error().Err(err).Msg("Queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		w.process(ctx, []byte(res[1]))
	}
}

func (w *Worker) process(ctx context.Context, data []byte) {
	var payload vault.SaveJobPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		log.Error().Err(err).Msg("Discarding undecodable save payload")
		return
	}

	result, err := w.saver.Save(ctx, vault.SaveRequest{
		OwnerID: payload.OwnerID,
		Title:   payload.Title,
		Turns:   payload.Turns,
	})
	if err != nil {
		log.Error().Err(err).
			Str("job_id", payload.JobID).
			Str("owner_id", payload.OwnerID).
			Msg("Queued save failed")
		w.setStatus(ctx, payload.JobID, vault.StatusFailed)
		return
	}

	log.Info().
		Str("job_id", payload.JobID).
		Str("record_id", result.RecordID).
		Bool("newly_saved", result.WasNewlySaved).
		Msg("Queued save completed")
	w.setStatus(ctx, payload.JobID, vault.StatusCompleted)
}

func (w *Worker) setStatus(ctx context.Context, jobID, status string) {
	if w.status == nil {
		return
	}
	if err := w.status.Set(ctx, jobID, status); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Failed to record job status")
	}
}
