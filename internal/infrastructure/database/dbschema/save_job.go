package dbschema

import (
	"time"

	"github.com/recallhq/recall-server/internal/domain/vault"
)

type SaveJob struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
}

func NewSchemaSaveJob(d *vault.SaveJob) *SaveJob {
	if d == nil {
		return nil
	}

	return &SaveJob{
		ID:        d.ID,
		OwnerID:   d.OwnerID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
	}
}

func (s *SaveJob) EtoD() *vault.SaveJob {
	if s == nil {
		return nil
	}

	return &vault.SaveJob{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
	}
}

type SaveJobTurn struct {
	JobID     string `db:"job_id"`
	TurnIndex int    `db:"turn_index"`
	Prompt    string `db:"prompt"`
	Response  string `db:"response"`
}

func NewSchemaSaveJobTurn(d *vault.SaveJobTurn) *SaveJobTurn {
	if d == nil {
		return nil
	}

	return &SaveJobTurn{
		JobID:     d.JobID,
		TurnIndex: d.TurnIndex,
		Prompt:    d.Prompt,
		Response:  d.Response,
	}
}

func (s *SaveJobTurn) EtoD() *vault.SaveJobTurn {
	if s == nil {
		return nil
	}

	return &vault.SaveJobTurn{
		JobID:     s.JobID,
		TurnIndex: s.TurnIndex,
		Prompt:    s.Prompt,
		Response:  s.Response,
	}
}
