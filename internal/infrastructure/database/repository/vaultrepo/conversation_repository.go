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
	"github.com/recallhq/recall-server/internal/platformerrors"
)

func (r *Repository) CreateConversation(ctx context.Context, rec *vault.ConversationRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	schema, err := dbschema.NewSchemaConversation(rec)
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Table("conversations").
		Create(map[string]any{
			"id":           schema.ID,
			"owner_id":     schema.OwnerID,
			"title":        schema.Title,
			"turns":        schema.Turns,
			"content_hash": schema.ContentHash,
			"embedding":    embeddingToString(schema.Embedding),
			"created_at":   schema.CreatedAt,
		}).Error; err != nil {
		if isUniqueViolation(err) {
			return "", platformerrors.Wrap(platformerrors.LayerRepository, platformerrors.ErrorTypeConflict, "conversation already exists", err)
		}
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	return schema.ID, nil
}

func (r *Repository) GetConversation(ctx context.Context, ownerID, id string) (*vault.ConversationRecord, error) {
	var row dbschema.Conversation
	err := r.db.WithContext(ctx).
		Table("conversations").
		Select("id, owner_id, title, turns, content_hash, created_at").
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	rec, err := row.EtoD()
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return rec, nil
}

func (r *Repository) FindConversationByContent(ctx context.Context, ownerID, title, contentHash string) (*vault.ConversationRecord, error) {
	var row dbschema.Conversation
	err := r.db.WithContext(ctx).
		Table("conversations").
		Select("id, owner_id, title, turns, content_hash, created_at").
		Where("owner_id = ? AND title = ? AND content_hash = ?", ownerID, title, contentHash).
		Order("created_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation by content: %w", err)
	}

	rec, err := row.EtoD()
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return rec, nil
}

func (r *Repository) ListConversations(ctx context.Context, ownerID string) ([]vault.ConversationRecord, error) {
	var rows []dbschema.Conversation
	if err := r.db.WithContext(ctx).
		Table("conversations").
		Select("id, owner_id, title, turns, content_hash, created_at").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	records := make([]vault.ConversationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.EtoD()
		if err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		records = append(records, *rec)
	}

	return records, nil
}

func (r *Repository) SearchConversations(
	ctx context.Context,
	ownerID string,
	queryEmbedding []float32,
	minSimilarity float32,
) ([]vault.ConversationRecord, error) {
	var rows []struct {
		dbschema.Conversation
		Similarity float32 `db:"similarity"`
	}

	vectorLiteral := embeddingToString(queryEmbedding)

	if err := r.searchQuery(ctx, ownerID, vectorLiteral, minSimilarity).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}

	records := make([]vault.ConversationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Conversation.EtoD()
		if err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		rec.Similarity = row.Similarity
		records = append(records, *rec)
	}

	return records, nil
}

// searchQuery ranks by vector distance with a created_at tie-break, so
// duplicates (identical similarity) arrive most-recent first, which the
// query layer's stable dedupe relies on. The ORDER BY goes through
// Clauses because gorm's Order only accepts strings and clause.OrderBy
// values and would silently drop a bare expression.
func (r *Repository) searchQuery(ctx context.Context, ownerID, vectorLiteral string, minSimilarity float32) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("conversations").
		Select("id, owner_id, title, turns, content_hash, created_at, 1 - (embedding <=> ?::vector) AS similarity", vectorLiteral).
		Where("owner_id = ? AND embedding IS NOT NULL AND 1 - (embedding <=> ?::vector) >= ?", ownerID, vectorLiteral, minSimilarity).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:  "embedding <=> ?::vector, created_at DESC",
			Vars: []any{vectorLiteral},
		}})
}

func (r *Repository) UpdateConversation(ctx context.Context, rec *vault.ConversationRecord) error {
	schema, err := dbschema.NewSchemaConversation(rec)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}

	// Single UPDATE keeps turns, content_hash and embedding in step. A
	// title-only update carries no vector and leaves the stored one alone.
	updates := map[string]any{
		"title":        schema.Title,
		"turns":        schema.Turns,
		"content_hash": schema.ContentHash,
	}
	if len(schema.Embedding) > 0 {
		updates["embedding"] = embeddingToString(schema.Embedding)
	}

	result := r.db.WithContext(ctx).
		Table("conversations").
		Where("id = ? AND owner_id = ?", schema.ID, schema.OwnerID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return platformerrors.New(platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "conversation not found")
	}
	return nil
}

func (r *Repository) DeleteConversation(ctx context.Context, ownerID, id string) error {
	result := r.db.WithContext(ctx).
		Exec("DELETE FROM conversations WHERE id = ? AND owner_id = ?", id, ownerID)
	if result.Error != nil {
		return fmt.Errorf("delete conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return platformerrors.New(platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "conversation not found")
	}
	return nil
}
