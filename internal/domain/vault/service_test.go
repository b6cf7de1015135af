package vault

import (
	"context"
	"strings"
	"testing"

	"github.com/recallhq/recall-server/internal/platformerrors"
)

func newTestService(repo *fakeRepo, embedder *fakeEmbedder) *Service {
	return NewService(repo, embedder, nil, 24000, 0.4)
}

func TestSave_PersistsNewConversation(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	result, err := svc.Save(context.Background(), SaveRequest{
		OwnerID: "user-1",
		Title:   "Trip planning",
		Turns:   []Turn{{Prompt: "where to go", Response: "portugal"}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if !result.WasNewlySaved {
		t.Error("Expected wasNewlySaved true for a first save")
	}
	if result.RecordID == "" {
		t.Error("Expected a record id")
	}
	if result.AdditionalRecordIDs != nil {
		t.Error("Single-chunk save must not report additional record ids")
	}
	if embedder.callCount() != 1 {
		t.Errorf("Expected 1 embedding call, got %d", embedder.callCount())
	}
}

func TestSave_IdenticalRetryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	req := SaveRequest{
		OwnerID: "user-1",
		Title:   "Trip planning",
		Turns: []Turn{
			{Prompt: "where to go", Response: "portugal"},
			{Prompt: "when", Response: "september"},
		},
	}

	first, err := svc.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	second, err := svc.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	if second.RecordID != first.RecordID {
		t.Errorf("Retry returned a different record id: %s vs %s", second.RecordID, first.RecordID)
	}
	if second.WasNewlySaved {
		t.Error("Retry must report wasNewlySaved false")
	}
	if embedder.callCount() != 1 {
		t.Errorf("Retry must not re-embed: got %d embedding calls", embedder.callCount())
	}
	if repo.createCalls != 1 {
		t.Errorf("Retry must not re-insert: got %d create calls", repo.createCalls)
	}
}

func TestSave_SameContentDifferentOwnersBothPersist(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	turns := []Turn{{Prompt: "p", Response: "r"}}

	a, err := svc.Save(context.Background(), SaveRequest{OwnerID: "user-a", Title: "t", Turns: turns})
	if err != nil {
		t.Fatalf("Save for user-a failed: %v", err)
	}
	b, err := svc.Save(context.Background(), SaveRequest{OwnerID: "user-b", Title: "t", Turns: turns})
	if err != nil {
		t.Fatalf("Save for user-b failed: %v", err)
	}

	if a.RecordID == b.RecordID {
		t.Error("Different owners must get distinct records")
	}
	if !a.WasNewlySaved || !b.WasNewlySaved {
		t.Error("Both saves should be new: owners do not share records")
	}
}

func TestSave_OversizedConversationIsChunked(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := NewService(repo, embedder, nil, 100, 0.4)

	result, err := svc.Save(context.Background(), SaveRequest{
		OwnerID: "user-1",
		Title:   "Long chat",
		Turns: []Turn{
			turnOfSize("t0", 60),
			turnOfSize("t1", 60),
			turnOfSize("t2", 60),
		},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if len(result.AdditionalRecordIDs) != 3 {
		t.Fatalf("Expected 3 chunk record ids, got %d", len(result.AdditionalRecordIDs))
	}
	if result.RecordID != result.AdditionalRecordIDs[0] {
		t.Error("RecordID must be the first chunk's id")
	}

	records, _ := repo.ListConversations(context.Background(), "user-1")
	titles := make(map[string]bool, len(records))
	for _, rec := range records {
		titles[rec.Title] = true
	}
	for _, want := range []string{"Long chat Part 1", "Long chat Part 2", "Long chat Part 3"} {
		if !titles[want] {
			t.Errorf("Missing chunk title %q", want)
		}
	}
}

func TestSave_ChunkedRetryIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := NewService(repo, embedder, nil, 100, 0.4)

	req := SaveRequest{
		OwnerID: "user-1",
		Title:   "Long chat",
		Turns:   []Turn{turnOfSize("t0", 60), turnOfSize("t1", 60)},
	}

	first, err := svc.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	embedsAfterFirst := embedder.callCount()

	second, err := svc.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	if second.WasNewlySaved {
		t.Error("Chunked retry must report wasNewlySaved false")
	}
	if len(second.AdditionalRecordIDs) != len(first.AdditionalRecordIDs) {
		t.Fatalf("Retry returned %d chunk ids, want %d", len(second.AdditionalRecordIDs), len(first.AdditionalRecordIDs))
	}
	for i := range first.AdditionalRecordIDs {
		if second.AdditionalRecordIDs[i] != first.AdditionalRecordIDs[i] {
			t.Errorf("Chunk %d id changed on retry", i)
		}
	}
	if embedder.callCount() != embedsAfterFirst {
		t.Errorf("Retry re-embedded: %d calls, want %d", embedder.callCount(), embedsAfterFirst)
	}
}

func TestSave_InsertConflictRefetchesExisting(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	turns := []Turn{{Prompt: "p", Response: "r"}}

	// Seed the record a concurrent save would have inserted, then make the
	// idempotency lookup miss once. The insert hits the unique constraint
	// and the pipeline must recover by re-fetching.
	pre, err := repo.CreateConversation(context.Background(), &ConversationRecord{
		OwnerID: "user-1", Title: "t", Turns: turns,
	})
	if err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}
	repo.missOnce = true

	result, err := svc.Save(context.Background(), SaveRequest{OwnerID: "user-1", Title: "t", Turns: turns})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if result.RecordID != pre {
		t.Errorf("Expected the pre-existing record id %s, got %s", pre, result.RecordID)
	}
	if result.WasNewlySaved {
		t.Error("Conflict resolution must report wasNewlySaved false")
	}
}

func TestSave_Validation(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEmbedder{})

	tests := []struct {
		name string
		req  SaveRequest
	}{
		{"missing owner", SaveRequest{Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}}}},
		{"blank owner", SaveRequest{OwnerID: "  ", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}}}},
		{"missing title", SaveRequest{OwnerID: "u", Turns: []Turn{{Prompt: "p", Response: "r"}}}},
		{"oversized title", SaveRequest{OwnerID: "u", Title: strings.Repeat("x", MaxTitleLength+1), Turns: []Turn{{Prompt: "p", Response: "r"}}}},
		{"no turns", SaveRequest{OwnerID: "u", Title: "t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !platformerrors.IsType(err, platformerrors.ErrorTypeValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestSave_EmbeddingFailureSurfacesAsExternal(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeEmbedder{fail: true})

	_, err := svc.Save(context.Background(), SaveRequest{
		OwnerID: "u", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})
	if err == nil {
		t.Fatal("Expected error when embedding fails")
	}
	if !platformerrors.IsType(err, platformerrors.ErrorTypeExternal) {
		t.Errorf("Expected external error, got %v", err)
	}
}

func TestGet_OwnershipMismatchReadsAsNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	id, err := repo.CreateConversation(context.Background(), &ConversationRecord{
		OwnerID: "user-a", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})
	if err != nil {
		t.Fatalf("Seed insert failed: %v", err)
	}

	_, err = svc.Get(context.Background(), "user-b", id)
	if !platformerrors.IsType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("Expected not-found for foreign owner, got %v", err)
	}

	rec, err := svc.Get(context.Background(), "user-a", id)
	if err != nil {
		t.Fatalf("Get by owner failed: %v", err)
	}
	if rec.ID != id {
		t.Errorf("Expected record %s, got %s", id, rec.ID)
	}
}

func TestUpdate_TitleOnlyDoesNotReEmbed(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	result, err := svc.Save(context.Background(), SaveRequest{
		OwnerID: "u", Title: "old", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	embedsAfterSave := embedder.callCount()

	newTitle := "new"
	updated, err := svc.Update(context.Background(), "u", result.RecordID, &newTitle, nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if updated.Title != "new" {
		t.Errorf("Expected title %q, got %q", "new", updated.Title)
	}
	if embedder.callCount() != embedsAfterSave {
		t.Error("Title-only update must not regenerate the embedding")
	}
}

func TestUpdate_TurnsChangeRegeneratesEmbedding(t *testing.T) {
	repo := newFakeRepo()
	embedder := &fakeEmbedder{}
	svc := newTestService(repo, embedder)

	result, err := svc.Save(context.Background(), SaveRequest{
		OwnerID: "u", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	embedsAfterSave := embedder.callCount()

	updated, err := svc.Update(context.Background(), "u", result.RecordID, nil, []Turn{{Prompt: "p2", Response: "r2"}})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if embedder.callCount() != embedsAfterSave+1 {
		t.Errorf("Turns change must re-embed once: got %d calls, want %d", embedder.callCount(), embedsAfterSave+1)
	}
	if updated.Turns[0].Prompt != "p2" {
		t.Errorf("Turns not updated: %+v", updated.Turns)
	}
}

func TestUpdate_NothingToUpdateIsRejected(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	id, _ := repo.CreateConversation(context.Background(), &ConversationRecord{
		OwnerID: "u", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})

	_, err := svc.Update(context.Background(), "u", id, nil, nil)
	if !platformerrors.IsType(err, platformerrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestDelete_RemovesRecordAndGatesOwnership(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeEmbedder{})

	id, _ := repo.CreateConversation(context.Background(), &ConversationRecord{
		OwnerID: "user-a", Title: "t", Turns: []Turn{{Prompt: "p", Response: "r"}},
	})

	if err := svc.Delete(context.Background(), "user-b", id); !platformerrors.IsType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("Foreign delete must read as not-found, got %v", err)
	}

	if err := svc.Delete(context.Background(), "user-a", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if err := svc.Delete(context.Background(), "user-a", id); !platformerrors.IsType(err, platformerrors.ErrorTypeNotFound) {
		t.Errorf("Second delete must read as not-found, got %v", err)
	}
}
