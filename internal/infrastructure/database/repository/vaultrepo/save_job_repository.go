package vaultrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/recallhq/recall-server/internal/domain/vault"
	"github.com/recallhq/recall-server/internal/infrastructure/database/dbschema"
)

func (r *Repository) CreateSaveJob(ctx context.Context, job *vault.SaveJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	schema := dbschema.NewSchemaSaveJob(job)

	if err := r.db.WithContext(ctx).
		Table("save_jobs").
		Create(map[string]any{
			"id":         schema.ID,
			"owner_id":   schema.OwnerID,
			"title":      schema.Title,
			"created_at": schema.CreatedAt,
		}).Error; err != nil {
		return "", fmt.Errorf("insert save job: %w", err)
	}

	return schema.ID, nil
}

func (r *Repository) GetSaveJob(ctx context.Context, ownerID, jobID string) (*vault.SaveJob, error) {
	var row dbschema.SaveJob
	err := r.db.WithContext(ctx).
		Table("save_jobs").
		Select("id, owner_id, title, created_at").
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query save job: %w", err)
	}

	return row.EtoD(), nil
}

func (r *Repository) UpsertSaveJobTurn(ctx context.Context, turn *vault.SaveJobTurn) error {
	schema := dbschema.NewSchemaSaveJobTurn(turn)

	if err := r.db.WithContext(ctx).
		Table("save_job_turns").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "turn_index"}},
			DoUpdates: clause.AssignmentColumns([]string{"prompt", "response"}),
		}).
		Create(map[string]any{
			"job_id":     schema.JobID,
			"turn_index": schema.TurnIndex,
			"prompt":     schema.Prompt,
			"response":   schema.Response,
		}).Error; err != nil {
		return fmt.Errorf("upsert save job turn: %w", err)
	}

	return nil
}

func (r *Repository) ListSaveJobTurns(ctx context.Context, jobID string) ([]vault.SaveJobTurn, error) {
	var rows []dbschema.SaveJobTurn
	if err := r.db.WithContext(ctx).
		Table("save_job_turns").
		Select("job_id, turn_index, prompt, response").
		Where("job_id = ?", jobID).
		Order("turn_index ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list save job turns: %w", err)
	}

	turns := make([]vault.SaveJobTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, *row.EtoD())
	}

	return turns, nil
}

func (r *Repository) DeleteSaveJob(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM save_job_turns WHERE job_id = ?", jobID).Error; err != nil {
			return fmt.Errorf("delete save job turns: %w", err)
		}
		if err := tx.Exec("DELETE FROM save_jobs WHERE id = ?", jobID).Error; err != nil {
			return fmt.Errorf("delete save job: %w", err)
		}
		return nil
	})
}
