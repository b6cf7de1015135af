package vault

import (
	"context"
)

// Repository defines the interface for conversation and save-job storage.
// All conversation operations are scoped by owner; an id that exists under a
// different owner behaves exactly like one that does not exist.
type Repository interface {
	// Conversations
	CreateConversation(ctx context.Context, rec *ConversationRecord) (string, error)
	GetConversation(ctx context.Context, ownerID, id string) (*ConversationRecord, error)
	FindConversationByContent(ctx context.Context, ownerID, title, contentHash string) (*ConversationRecord, error)
	ListConversations(ctx context.Context, ownerID string) ([]ConversationRecord, error)
	SearchConversations(ctx context.Context, ownerID string, queryEmbedding []float32, minSimilarity float32) ([]ConversationRecord, error)
	UpdateConversation(ctx context.Context, rec *ConversationRecord) error
	DeleteConversation(ctx context.Context, ownerID, id string) error

	// Save jobs (incremental save staging)
	CreateSaveJob(ctx context.Context, job *SaveJob) (string, error)
	GetSaveJob(ctx context.Context, ownerID, jobID string) (*SaveJob, error)
	UpsertSaveJobTurn(ctx context.Context, turn *SaveJobTurn) error
	ListSaveJobTurns(ctx context.Context, jobID string) ([]SaveJobTurn, error)
	DeleteSaveJob(ctx context.Context, jobID string) error
}

// Locker serializes concurrent identical saves. The storage-level unique
// index is the real guard; the lock just avoids burning a duplicate
// embedding call when two clients race.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// NoopLocker is used when no shared lock backend is configured.
type NoopLocker struct{}

func (NoopLocker) Lock(ctx context.Context, key string) (func(), error) {
	return func() {}, nil
}
