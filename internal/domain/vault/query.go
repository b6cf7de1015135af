package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/metrics"
	"github.com/recallhq/recall-server/internal/platformerrors"
)

func validatePaging(page, size int) error {
	if page < 0 {
		return platformerrors.Validation("page must be >= 0")
	}
	if size < 1 || size > MaxPageSize {
		return platformerrors.Validation(fmt.Sprintf("size must be between 1 and %d", MaxPageSize))
	}
	return nil
}

// dedupeKeepFirst collapses records sharing a (title, turns) signature,
// keeping the first occurrence in the incoming order. Input order carries
// the ranking (recency or similarity), so stability here is what keeps
// pagination consistent with that ranking.
func dedupeKeepFirst(records []ConversationRecord) []ConversationRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, rec := range records {
		key := dedupeKey(rec)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// paginate slices the deduplicated list. Dedup must already have happened:
// the totals reported here are what make that ordering contractual.
func paginate(records []ConversationRecord, page, size int) Page {
	total := len(records)
	totalPages := (total + size - 1) / size

	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	chats := records[start:end]
	if chats == nil {
		chats = []ConversationRecord{}
	}

	return Page{
		Chats: chats,
		Pagination: Pagination{
			Total:      total,
			TotalPages: totalPages,
			HasMore:    page+1 < totalPages,
		},
	}
}

// List returns an owner's conversations newest-first, deduplicated before
// the pagination totals are computed. A non-empty query switches to Search.
func (s *Service) List(ctx context.Context, ownerID string, page, size int, query string) (*Page, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, platformerrors.Validation("ownerId is required")
	}
	if err := validatePaging(page, size); err != nil {
		return nil, err
	}

	if strings.TrimSpace(query) != "" {
		return s.Search(ctx, ownerID, query, page, size)
	}

	records, err := s.repo.ListConversations(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	// Rows arrive newest-first, so keep-first is keep-most-recent.
	deduped := dedupeKeepFirst(records)
	result := paginate(deduped, page, size)

	log.Debug().
		Str("owner_id", ownerID).
		Int("rows", len(records)).
		Int("deduplicated", len(deduped)).
		Int("page", page).
		Msg("List completed")

	return &result, nil
}

// Search embeds the query and ranks the owner's records by cosine
// similarity, applying the configured relevance floor. Deduplication keeps
// the similarity order; pagination runs on the deduplicated ranking.
func (s *Service) Search(ctx context.Context, ownerID, query string, page, size int) (*Page, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, platformerrors.Validation("ownerId is required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, platformerrors.Validation("query is required")
	}
	if err := validatePaging(page, size); err != nil {
		return nil, err
	}

	queryEmbedding, err := s.embeddingClient.EmbedSingle(ctx, query)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.LayerDomain, platformerrors.ErrorTypeExternal, "embed query", err)
	}

	start := time.Now()
	records, err := s.repo.SearchConversations(ctx, ownerID, queryEmbedding, s.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	metrics.RecordVectorSearch(time.Since(start).Seconds())

	deduped := dedupeKeepFirst(records)
	result := paginate(deduped, page, size)

	log.Debug().
		Str("owner_id", ownerID).
		Int("matches", len(records)).
		Int("deduplicated", len(deduped)).
		Msg("Search completed")

	return &result, nil
}
