package vault

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/recallhq/recall-server/internal/platformerrors"
)

// fakeRepo is an in-memory Repository with the same uniqueness and
// ownership behavior as the real one.
type fakeRepo struct {
	mu            sync.Mutex
	conversations map[string]*ConversationRecord
	jobs          map[string]*SaveJob
	jobTurns      map[string]map[int]SaveJobTurn

	nextID      int
	clock       time.Time
	createCalls int
	// When set, the next FindConversationByContent reports no match even
	// when one exists. Combined with the unique check in create this
	// simulates losing a check-then-insert race to a concurrent save.
	missOnce bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conversations: make(map[string]*ConversationRecord),
		jobs:          make(map[string]*SaveJob),
		jobTurns:      make(map[string]map[int]SaveJobTurn),
		clock:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeRepo) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeRepo) CreateConversation(ctx context.Context, rec *ConversationRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++

	hash := ContentHash(rec.Turns)
	for _, existing := range f.conversations {
		if existing.OwnerID == rec.OwnerID && existing.Title == rec.Title && ContentHash(existing.Turns) == hash {
			return "", platformerrors.New(platformerrors.LayerRepository, platformerrors.ErrorTypeConflict, "conversation already exists")
		}
	}

	f.nextID++
	stored := *rec
	stored.ID = fmt.Sprintf("rec-%d", f.nextID)
	stored.CreatedAt = f.tick()
	f.conversations[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeRepo) GetConversation(ctx context.Context, ownerID, id string) (*ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.conversations[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeRepo) FindConversationByContent(ctx context.Context, ownerID, title, contentHash string) (*ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.missOnce {
		f.missOnce = false
		return nil, nil
	}

	for _, rec := range f.conversations {
		if rec.OwnerID == ownerID && rec.Title == title && ContentHash(rec.Turns) == contentHash {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) ListConversations(ctx context.Context, ownerID string) ([]ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ConversationRecord
	for _, rec := range f.conversations {
		if rec.OwnerID == ownerID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID > out[b].ID
	})
	return out, nil
}

func (f *fakeRepo) SearchConversations(ctx context.Context, ownerID string, queryEmbedding []float32, minSimilarity float32) ([]ConversationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []ConversationRecord
	for _, rec := range f.conversations {
		if rec.OwnerID != ownerID || len(rec.Embedding) == 0 {
			continue
		}
		sim := cosine(queryEmbedding, rec.Embedding)
		if sim < minSimilarity {
			continue
		}
		copied := *rec
		copied.Similarity = sim
		out = append(out, copied)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Similarity != out[b].Similarity {
			return out[a].Similarity > out[b].Similarity
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (f *fakeRepo) UpdateConversation(ctx context.Context, rec *ConversationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.conversations[rec.ID]
	if !ok || existing.OwnerID != rec.OwnerID {
		return platformerrors.New(platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "conversation not found")
	}
	existing.Title = rec.Title
	existing.Turns = rec.Turns
	if len(rec.Embedding) > 0 {
		existing.Embedding = rec.Embedding
	}
	return nil
}

func (f *fakeRepo) DeleteConversation(ctx context.Context, ownerID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.conversations[id]
	if !ok || rec.OwnerID != ownerID {
		return platformerrors.New(platformerrors.LayerRepository, platformerrors.ErrorTypeNotFound, "conversation not found")
	}
	delete(f.conversations, id)
	return nil
}

func (f *fakeRepo) CreateSaveJob(ctx context.Context, job *SaveJob) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	stored := *job
	stored.ID = fmt.Sprintf("job-%d", f.nextID)
	stored.CreatedAt = f.tick()
	f.jobs[stored.ID] = &stored
	return stored.ID, nil
}

func (f *fakeRepo) GetSaveJob(ctx context.Context, ownerID, jobID string) (*SaveJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (f *fakeRepo) UpsertSaveJobTurn(ctx context.Context, turn *SaveJobTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.jobTurns[turn.JobID] == nil {
		f.jobTurns[turn.JobID] = make(map[int]SaveJobTurn)
	}
	f.jobTurns[turn.JobID][turn.TurnIndex] = *turn
	return nil
}

func (f *fakeRepo) ListSaveJobTurns(ctx context.Context, jobID string) ([]SaveJobTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []SaveJobTurn
	for _, turn := range f.jobTurns[jobID] {
		out = append(out, turn)
	}
	// Deliberately unsorted; ordering is the caller's contract.
	return out, nil
}

func (f *fakeRepo) DeleteSaveJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.jobs, jobID)
	delete(f.jobTurns, jobID)
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// fakeEmbedder returns deterministic vectors and counts calls, so tests can
// assert that idempotent retries skip the embedding step.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
	// vectorFor overrides the generated vector per text when set.
	vectorFor func(text string) []float32
}

func (f *fakeEmbedder) embed(text string) []float32 {
	if f.vectorFor != nil {
		return f.vectorFor(text)
	}
	// Deterministic pseudo-vector derived from the text.
	v := make([]float32, 4)
	for i, c := range []byte(text) {
		v[i%4] += float32(c) / 255
	}
	return v
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	f.mu.Lock()
	f.calls += len(texts)
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.embed(text)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

func (f *fakeEmbedder) ValidateServer(ctx context.Context) error { return nil }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
