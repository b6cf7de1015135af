package vault

import (
	"context"
	"fmt"
	"testing"

	"github.com/recallhq/recall-server/internal/platformerrors"
)

func seedConversation(t *testing.T, repo *fakeRepo, owner, title string, turns []Turn, embedding []float32) string {
	t.Helper()
	id, err := repo.CreateConversation(context.Background(), &ConversationRecord{
		OwnerID:   owner,
		Title:     title,
		Turns:     turns,
		Embedding: embedding,
	})
	if err != nil {
		t.Fatalf("Seed %q failed: %v", title, err)
	}
	return id
}

func TestList_NewestFirstWithPagination(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	for i := 0; i < 5; i++ {
		title := fmt.Sprintf("chat-%d", i)
		seedConversation(t, repo, "u", title, []Turn{{Prompt: title, Response: "r"}}, nil)
	}

	page, err := svc.List(context.Background(), "u", 0, 2, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if page.Pagination.Total != 5 {
		t.Errorf("Expected total 5, got %d", page.Pagination.Total)
	}
	if page.Pagination.TotalPages != 3 {
		t.Errorf("Expected 3 pages, got %d", page.Pagination.TotalPages)
	}
	if !page.Pagination.HasMore {
		t.Error("Expected hasMore on first page")
	}
	if len(page.Chats) != 2 {
		t.Fatalf("Expected 2 chats, got %d", len(page.Chats))
	}
	// The most recently created row comes first.
	if page.Chats[0].Title != "chat-4" {
		t.Errorf("Expected newest chat first, got %q", page.Chats[0].Title)
	}

	last, err := svc.List(context.Background(), "u", 2, 2, "")
	if err != nil {
		t.Fatalf("List last page failed: %v", err)
	}
	if len(last.Chats) != 1 {
		t.Errorf("Expected 1 chat on last page, got %d", len(last.Chats))
	}
	if last.Pagination.HasMore {
		t.Error("Last page must not report hasMore")
	}
}

func TestList_PageBeyondEndIsEmptyNotError(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	seedConversation(t, repo, "u", "only", []Turn{{Prompt: "p", Response: "r"}}, nil)

	page, err := svc.List(context.Background(), "u", 7, 10, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Chats == nil {
		t.Error("Chats must be an empty slice, not nil")
	}
	if len(page.Chats) != 0 {
		t.Errorf("Expected empty page, got %d chats", len(page.Chats))
	}
	if page.Pagination.Total != 1 {
		t.Errorf("Total must still count records, got %d", page.Pagination.Total)
	}
}

func TestList_DedupesBeforeComputingTotals(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	turns := []Turn{{Prompt: "p", Response: "r"}}

	// Two byte-identical copies slipped past the unique index in a legacy
	// import; the reader must collapse them.
	seedConversation(t, repo, "u", "dup", turns, nil)
	repo.mu.Lock()
	repo.nextID++
	copyID := fmt.Sprintf("rec-%d", repo.nextID)
	repo.conversations[copyID] = &ConversationRecord{
		ID: copyID, OwnerID: "u", Title: "dup", Turns: turns, CreatedAt: repo.tick(),
	}
	repo.mu.Unlock()
	seedConversation(t, repo, "u", "unique", []Turn{{Prompt: "q", Response: "s"}}, nil)

	page, err := svc.List(context.Background(), "u", 0, 10, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if page.Pagination.Total != 2 {
		t.Errorf("Totals must count deduplicated records: got %d, want 2", page.Pagination.Total)
	}
	if len(page.Chats) != 2 {
		t.Fatalf("Expected 2 chats after dedupe, got %d", len(page.Chats))
	}
	// Keep-first on a newest-first listing keeps the most recent copy.
	if page.Chats[0].ID != copyID {
		t.Errorf("Dedupe must keep the most recent copy: got %s, want %s", page.Chats[0].ID, copyID)
	}
}

func TestList_TenantIsolation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	seedConversation(t, repo, "user-a", "a-chat", []Turn{{Prompt: "p", Response: "r"}}, nil)
	seedConversation(t, repo, "user-b", "b-chat", []Turn{{Prompt: "p", Response: "r"}}, nil)

	page, err := svc.List(context.Background(), "user-a", 0, 10, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Chats) != 1 {
		t.Fatalf("Expected only user-a's chat, got %d", len(page.Chats))
	}
	if page.Chats[0].Title != "a-chat" {
		t.Errorf("Got foreign record %q", page.Chats[0].Title)
	}
}

func TestList_QueryDelegatesToSearch(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	vec := []float32{1, 0, 0, 0}
	embedder.vectorFor = func(string) []float32 { return vec }

	seedConversation(t, repo, "u", "match", []Turn{{Prompt: "p", Response: "r"}}, vec)

	page, err := svc.List(context.Background(), "u", 0, 10, "find it")
	if err != nil {
		t.Fatalf("List with query failed: %v", err)
	}
	if embedder.callCount() != 1 {
		t.Error("A query must route through the embedding-backed search")
	}
	if len(page.Chats) != 1 || page.Chats[0].Similarity == 0 {
		t.Errorf("Expected one scored result, got %+v", page.Chats)
	}
}

func TestSearch_AppliesSimilarityFloor(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := NewService(repo, embedder, nil, 24000, 0.5)

	queryVec := []float32{1, 0, 0, 0}
	embedder.vectorFor = func(string) []float32 { return queryVec }

	seedConversation(t, repo, "u", "close", []Turn{{Prompt: "a", Response: "b"}}, []float32{1, 0.1, 0, 0})
	seedConversation(t, repo, "u", "far", []Turn{{Prompt: "c", Response: "d"}}, []float32{0, 1, 0, 0})

	page, err := svc.Search(context.Background(), "u", "query", 0, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(page.Chats) != 1 {
		t.Fatalf("Expected 1 result above the floor, got %d", len(page.Chats))
	}
	if page.Chats[0].Title != "close" {
		t.Errorf("Expected %q, got %q", "close", page.Chats[0].Title)
	}
	if page.Chats[0].Similarity < 0.5 {
		t.Errorf("Result below floor: %f", page.Chats[0].Similarity)
	}
}

func TestSearch_RanksBySimilarity(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := NewService(repo, embedder, nil, 24000, 0.1)

	queryVec := []float32{1, 0, 0, 0}
	embedder.vectorFor = func(string) []float32 { return queryVec }

	seedConversation(t, repo, "u", "weak", []Turn{{Prompt: "a", Response: "b"}}, []float32{1, 1, 0, 0})
	seedConversation(t, repo, "u", "strong", []Turn{{Prompt: "c", Response: "d"}}, []float32{1, 0.05, 0, 0})

	page, err := svc.Search(context.Background(), "u", "query", 0, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if len(page.Chats) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(page.Chats))
	}
	if page.Chats[0].Title != "strong" {
		t.Errorf("Expected best match first, got %q", page.Chats[0].Title)
	}
	if page.Chats[0].Similarity < page.Chats[1].Similarity {
		t.Error("Results not sorted by similarity descending")
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEmbedder{})

	_, err := svc.Search(context.Background(), "u", "   ", 0, 10)
	if !platformerrors.IsType(err, platformerrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestPagingValidation(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEmbedder{})

	tests := []struct {
		name string
		page int
		size int
	}{
		{"negative page", -1, 10},
		{"zero size", 0, 0},
		{"negative size", 0, -5},
		{"size over cap", 0, MaxPageSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.List(context.Background(), "u", tt.page, tt.size, "")
			if !platformerrors.IsType(err, platformerrors.ErrorTypeValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}
