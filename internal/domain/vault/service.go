package vault

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/domain/embedding"
	"github.com/recallhq/recall-server/internal/metrics"
	"github.com/recallhq/recall-server/internal/platformerrors"
)

// Service implements the save pipeline and record mutations.
type Service struct {
	repo            Repository
	embeddingClient embedding.Client
	locker          Locker

	maxChunkChars int
	minSimilarity float32
}

// NewService creates a vault service. maxChunkChars is the embedding input
// ceiling in characters; minSimilarity is the search relevance floor.
func NewService(repo Repository, embeddingClient embedding.Client, locker Locker, maxChunkChars int, minSimilarity float32) *Service {
	if locker == nil {
		locker = NoopLocker{}
	}
	return &Service{
		repo:            repo,
		embeddingClient: embeddingClient,
		locker:          locker,
		maxChunkChars:   maxChunkChars,
		minSimilarity:   minSimilarity,
	}
}

func validateSaveRequest(req SaveRequest) (SaveRequest, error) {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Title = strings.TrimSpace(req.Title)

	if req.OwnerID == "" {
		return req, platformerrors.Validation("ownerId is required")
	}
	if req.Title == "" {
		return req, platformerrors.Validation("title is required")
	}
	if len(req.Title) > MaxTitleLength {
		return req, platformerrors.Validation(fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	if len(req.Turns) == 0 {
		return req, platformerrors.Validation("turns must not be empty")
	}
	return req, nil
}

// partTitle suffixes chunk titles for multi-part saves, 1-indexed.
func partTitle(title string, part, totalParts int) string {
	if totalParts <= 1 {
		return title
	}
	return fmt.Sprintf("%s Part %d", title, part)
}

// Save persists a conversation, splitting it into per-chunk records when its
// combined text exceeds the embedding ceiling. Retrying an identical save
// returns the already-persisted ids without generating new embeddings.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	req, err := validateSaveRequest(req)
	if err != nil {
		metrics.RecordSave("invalid", 0)
		return nil, err
	}

	chunks := splitTurns(req.Turns, s.maxChunkChars)

	log.Debug().
		Str("owner_id", req.OwnerID).
		Int("turns", len(req.Turns)).
		Int("chunks", len(chunks)).
		Msg("Save pipeline started")

	recordIDs := make([]string, 0, len(chunks))
	anyNew := false

	for i, chunkTurns := range chunks {
		title := partTitle(req.Title, i+1, len(chunks))
		id, created, err := s.saveChunk(ctx, req.OwnerID, title, chunkTurns)
		if err != nil {
			metrics.RecordSave("error", 0)
			return nil, err
		}
		recordIDs = append(recordIDs, id)
		anyNew = anyNew || created
	}

	metrics.RecordSave("ok", len(chunks))

	result := &SaveResult{
		RecordID:      recordIDs[0],
		WasNewlySaved: anyNew,
	}
	if len(recordIDs) > 1 {
		result.AdditionalRecordIDs = recordIDs
	}

	log.Info().
		Str("owner_id", req.OwnerID).
		Str("record_id", result.RecordID).
		Bool("newly_saved", result.WasNewlySaved).
		Int("chunks", len(chunks)).
		Msg("Save pipeline completed")

	return result, nil
}

// saveChunk persists a single chunk with per-chunk idempotency: the content
// lookup happens strictly before the embedding call, so retried saves never
// pay for an embedding twice.
func (s *Service) saveChunk(ctx context.Context, ownerID, title string, turns []Turn) (id string, created bool, err error) {
	contentHash := ContentHash(turns)

	unlock, err := s.locker.Lock(ctx, ownerID+":"+contentHash)
	if err != nil {
		return "", false, fmt.Errorf("acquire save lock: %w", err)
	}
	defer unlock()

	existing, err := s.repo.FindConversationByContent(ctx, ownerID, title, contentHash)
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		log.Debug().
			Str("owner_id", ownerID).
			Str("record_id", existing.ID).
			Msg("Identical conversation already saved")
		return existing.ID, false, nil
	}

	vector, err := s.embeddingClient.EmbedSingle(ctx, CombinedText(turns))
	if err != nil {
		return "", false, platformerrors.Wrap(platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "generate embedding", err)
	}

	recordID, err := s.repo.CreateConversation(ctx, &ConversationRecord{
		OwnerID:   ownerID,
		Title:     title,
		Turns:     turns,
		Embedding: vector,
	})
	if err != nil {
		// The unique content index closes the check-then-insert race: a
		// conflicting concurrent save means the record now exists, so
		// re-fetch and report the retry outcome.
		if platformerrors.IsType(err, platformerrors.ErrorTypeConflict) {
			existing, ferr := s.repo.FindConversationByContent(ctx, ownerID, title, contentHash)
			if ferr == nil && existing != nil {
				return existing.ID, false, nil
			}
		}
		return "", false, fmt.Errorf("insert conversation: %w", err)
	}
	if recordID == "" {
		return "", false, platformerrors.New(platformerrors.LayerDomain, platformerrors.ErrorTypeInternal, "insert returned no record id")
	}

	return recordID, true, nil
}

// Get returns a single record, ownership-gated.
func (s *Service) Get(ctx context.Context, ownerID, conversationID string) (*ConversationRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, platformerrors.Validation("ownerId is required")
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, platformerrors.Validation("conversationId is required")
	}

	rec, err := s.repo.GetConversation(ctx, ownerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if rec == nil {
		return nil, platformerrors.NotFound("conversation not found")
	}
	return rec, nil
}

// Update changes title and/or turns. A turns change regenerates the
// embedding and writes both in the same UPDATE so they never disagree.
func (s *Service) Update(ctx context.Context, ownerID, conversationID string, title *string, turns []Turn) (*ConversationRecord, error) {
	rec, err := s.Get(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	if title == nil && turns == nil {
		return nil, platformerrors.Validation("nothing to update: title or turns is required")
	}

	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return nil, platformerrors.Validation("title is required")
		}
		if len(trimmed) > MaxTitleLength {
			return nil, platformerrors.Validation(fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
		}
		rec.Title = trimmed
	}

	if turns != nil {
		if len(turns) == 0 {
			return nil, platformerrors.Validation("turns must not be empty")
		}
		vector, err := s.embeddingClient.EmbedSingle(ctx, CombinedText(turns))
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "generate embedding", err)
		}
		rec.Turns = turns
		rec.Embedding = vector
	}

	if err := s.repo.UpdateConversation(ctx, rec); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("record_id", rec.ID).
		Bool("turns_changed", turns != nil).
		Msg("Conversation updated")

	return rec, nil
}

// Delete removes a record, ownership-gated. A record owned by someone else
// reports not-found, same as a missing one.
func (s *Service) Delete(ctx context.Context, ownerID, conversationID string) error {
	if _, err := s.Get(ctx, ownerID, conversationID); err != nil {
		return err
	}

	if err := s.repo.DeleteConversation(ctx, ownerID, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	log.Info().
		Str("owner_id", ownerID).
		Str("record_id", conversationID).
		Msg("Conversation deleted")

	return nil
}
