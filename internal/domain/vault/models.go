package vault

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// Turn is one prompt/response exchange. Turns are the atomic unit of a
// conversation: chunking never splits a prompt from its response.
type Turn struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// ConversationRecord is a saved, searchable conversation. Embedding, when
// present, is always derived from exactly the turns stored alongside it.
type ConversationRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	Embedding []float32 `json:"-"`

	// Computed on search results only.
	Similarity float32 `json:"similarity,omitempty"`
}

// SaveJob is the transient staging row for an in-progress incremental save.
type SaveJob struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveJobTurn is a single staged turn, keyed by (JobID, TurnIndex).
type SaveJobTurn struct {
	JobID     string `json:"job_id"`
	TurnIndex int    `json:"turn_index"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
}

// SaveRequest is the Save Pipeline input.
type SaveRequest struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Turns   []Turn `json:"turns"`
}

// SaveResult reports what the pipeline persisted. WasNewlySaved is false when
// an identical record already existed and the save was a no-op retry.
type SaveResult struct {
	RecordID            string   `json:"record_id"`
	WasNewlySaved       bool     `json:"was_newly_saved"`
	AdditionalRecordIDs []string `json:"additional_record_ids,omitempty"`
}

// SaveJobPayload is the assembled unit handed to a JobSink by finalize.
type SaveJobPayload struct {
	JobID   string `json:"job_id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Turns   []Turn `json:"turns"`
}

// Job status values tracked for queue-backed saves. A missing status key
// after the TTL elapses reads as StatusExpired, which callers must treat as
// inconclusive rather than failed.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// Pagination is the envelope attached to list and search results.
type Pagination struct {
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasMore    bool `json:"hasMore"`
}

// Page is one page of deduplicated conversations.
type Page struct {
	Chats      []ConversationRecord `json:"chats"`
	Pagination Pagination           `json:"pagination"`
}

const (
	// MaxTitleLength bounds titles after trimming.
	MaxTitleLength = 2048

	// MaxPageSize bounds the size parameter of list and search.
	MaxPageSize = 100
)

// TurnText renders a single turn the way it contributes to embedding input.
func TurnText(t Turn) string {
	return t.Prompt + "\n" + t.Response
}

// CombinedText renders a turn sequence into the text that gets embedded.
func CombinedText(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = TurnText(t)
	}
	return strings.Join(parts, "\n\n")
}

// ContentHash produces a stable signature of a turn sequence. Each field is
// length-prefixed so ("ab","c") and ("a","bc") cannot collide, and order is
// part of the hash.
func ContentHash(turns []Turn) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, t := range turns {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(t.Prompt)))
		h.Write(lenBuf[:])
		h.Write([]byte(t.Prompt))
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(t.Response)))
		h.Write(lenBuf[:])
		h.Write([]byte(t.Response))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// dedupeKey is the (title, turns) signature used to collapse exact repeats
// within a single owner's records.
func dedupeKey(rec ConversationRecord) string {
	return rec.Title + "\x00" + ContentHash(rec.Turns)
}
