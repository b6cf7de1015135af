package vault

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/platformerrors"
)

// FinalizeResult is what finalize hands back: a record id when the save ran
// in-process, or the job id as a poll handle when it was queued.
type FinalizeResult struct {
	RecordID string `json:"record_id,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Async    bool   `json:"async"`
}

// JobSink is the finalize strategy: accept an assembled payload and either
// process it now or hand it off. Selected once at startup from configuration.
type JobSink interface {
	Accept(ctx context.Context, payload SaveJobPayload) (*FinalizeResult, error)
}

// SyncSink runs the save pipeline in-process. Deployments without a work
// queue still finalize correctly, just without the latency decoupling.
type SyncSink struct {
	service *Service
}

func NewSyncSink(service *Service) *SyncSink {
	return &SyncSink{service: service}
}

func (s *SyncSink) Accept(ctx context.Context, payload SaveJobPayload) (*FinalizeResult, error) {
	result, err := s.service.Save(ctx, SaveRequest{
		OwnerID: payload.OwnerID,
		Title:   payload.Title,
		Turns:   payload.Turns,
	})
	if err != nil {
		return nil, err
	}
	return &FinalizeResult{RecordID: result.RecordID}, nil
}

// JobService implements the begin/append/finalize incremental save protocol.
type JobService struct {
	repo Repository
	sink JobSink
}

func NewJobService(repo Repository, sink JobSink) *JobService {
	return &JobService{repo: repo, sink: sink}
}

// Begin creates a staging job for a turn-by-turn upload.
func (j *JobService) Begin(ctx context.Context, ownerID, title string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	title = strings.TrimSpace(title)

	if ownerID == "" {
		return "", platformerrors.Validation("ownerId is required")
	}
	if title == "" {
		return "", platformerrors.Validation("title is required")
	}
	if len(title) > MaxTitleLength {
		return "", platformerrors.Validation(fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}

	jobID, err := j.repo.CreateSaveJob(ctx, &SaveJob{
		OwnerID: ownerID,
		Title:   title,
	})
	if err != nil {
		return "", fmt.Errorf("create save job: %w", err)
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("job_id", jobID).
		Msg("Incremental save started")

	return jobID, nil
}

// Append stages one turn. Re-sending an index overwrites, so a client can
// retry a single turn safely. Ownership mismatch reads as not-found.
func (j *JobService) Append(ctx context.Context, ownerID, jobID string, turnIndex int, turn Turn) error {
	if strings.TrimSpace(ownerID) == "" {
		return platformerrors.Validation("ownerId is required")
	}
	if strings.TrimSpace(jobID) == "" {
		return platformerrors.Validation("jobId is required")
	}
	if turnIndex < 0 {
		return platformerrors.Validation("turnIndex must be >= 0")
	}
	if turn.Prompt == "" || turn.Response == "" {
		return platformerrors.Validation("turn prompt and response are required")
	}

	job, err := j.repo.GetSaveJob(ctx, ownerID, jobID)
	if err != nil {
		return fmt.Errorf("get save job: %w", err)
	}
	if job == nil {
		return platformerrors.NotFound("save job not found")
	}

	if err := j.repo.UpsertSaveJobTurn(ctx, &SaveJobTurn{
		JobID:     jobID,
		TurnIndex: turnIndex,
		Prompt:    turn.Prompt,
		Response:  turn.Response,
	}); err != nil {
		return fmt.Errorf("upsert save job turn: %w", err)
	}

	return nil
}

// Finalize assembles the staged turns in index order and hands them to the
// configured sink. The staging rows are deleted before returning on every
// path that got as far as assembly, success or not, so completed jobs never
// accumulate.
func (j *JobService) Finalize(ctx context.Context, ownerID, jobID string) (*FinalizeResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, platformerrors.Validation("ownerId is required")
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, platformerrors.Validation("jobId is required")
	}

	job, err := j.repo.GetSaveJob(ctx, ownerID, jobID)
	if err != nil {
		return nil, fmt.Errorf("get save job: %w", err)
	}
	if job == nil {
		return nil, platformerrors.NotFound("save job not found")
	}

	turns, err := j.repo.ListSaveJobTurns(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list save job turns: %w", err)
	}
	if len(turns) == 0 {
		return nil, platformerrors.Validation("save job has no turns to finalize")
	}

	// The caller contract is contiguous indexes from 0; sorting tolerates
	// gaps without reordering what was sent.
	sort.Slice(turns, func(a, b int) bool { return turns[a].TurnIndex < turns[b].TurnIndex })

	assembled := make([]Turn, len(turns))
	for i, t := range turns {
		assembled[i] = Turn{Prompt: t.Prompt, Response: t.Response}
	}

	defer func() {
		// Best-effort teardown; a leaked row is logged, never surfaced.
		if derr := j.repo.DeleteSaveJob(context.WithoutCancel(ctx), jobID); derr != nil {
			log.Warn().Err(derr).Str("job_id", jobID).Msg("Failed to clean up save job")
		}
	}()

	result, err := j.sink.Accept(ctx, SaveJobPayload{
		JobID:   jobID,
		OwnerID: ownerID,
		Title:   job.Title,
		Turns:   assembled,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("job_id", jobID).
		Int("turns", len(assembled)).
		Bool("async", result.Async).
		Msg("Incremental save finalized")

	return result, nil
}
