package dbschema

import (
	"encoding/json"
	"time"

	"github.com/recallhq/recall-server/internal/domain/vault"
)

type Conversation struct {
	ID          string    `db:"id"`
	OwnerID     string    `db:"owner_id"`
	Title       string    `db:"title"`
	Turns       string    `db:"turns"` // JSON array of {prompt, response}
	ContentHash string    `db:"content_hash"`
	Embedding   []float32 `db:"embedding"`
	CreatedAt   time.Time `db:"created_at"`
}

func NewSchemaConversation(d *vault.ConversationRecord) (*Conversation, error) {
	if d == nil {
		return nil, nil
	}

	turnsJSON, err := json.Marshal(d.Turns)
	if err != nil {
		return nil, err
	}

	return &Conversation{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Title:       d.Title,
		Turns:       string(turnsJSON),
		ContentHash: vault.ContentHash(d.Turns),
		Embedding:   d.Embedding,
		CreatedAt:   d.CreatedAt,
	}, nil
}

func (s *Conversation) EtoD() (*vault.ConversationRecord, error) {
	if s == nil {
		return nil, nil
	}

	var turns []vault.Turn
	if s.Turns != "" {
		if err := json.Unmarshal([]byte(s.Turns), &turns); err != nil {
			return nil, err
		}
	}

	return &vault.ConversationRecord{
		ID:        s.ID,
		OwnerID:   s.OwnerID,
		Title:     s.Title,
		Turns:     turns,
		Embedding: s.Embedding,
		CreatedAt: s.CreatedAt,
	}, nil
}
