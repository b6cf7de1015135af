package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/recallhq/recall-server/internal/domain/vault"
	"github.com/recallhq/recall-server/internal/platformerrors"
)

// OperationHandler executes one named operation against decoded arguments.
type OperationHandler func(ctx context.Context, arguments json.RawMessage) (any, error)

// Operation is one invocable entry of the registry: descriptor plus handler.
type Operation struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     OperationHandler
}

// Registry is the closed table of supported operations. Building it once at
// startup means an unhandled operation is a missing table entry, not a
// scattered switch arm.
type Registry struct {
	ops   []Operation
	index map[string]*Operation
}

func NewRegistry(ops []Operation) *Registry {
	r := &Registry{ops: ops, index: make(map[string]*Operation, len(ops))}
	for i := range r.ops {
		r.index[r.ops[i].Name] = &r.ops[i]
	}
	return r
}

// Descriptors returns the tools/list view of the registry.
func (r *Registry) Descriptors() []ToolDescriptor {
	descriptors := make([]ToolDescriptor, len(r.ops))
	for i, op := range r.ops {
		descriptors[i] = ToolDescriptor{
			Name:        op.Name,
			Description: op.Description,
			InputSchema: op.InputSchema,
		}
	}
	return descriptors
}

// Lookup resolves an operation by name.
func (r *Registry) Lookup(name string) (*Operation, bool) {
	op, ok := r.index[name]
	return op, ok
}

// StatusGetter reads the status of a queued save job.
type StatusGetter interface {
	Get(ctx context.Context, jobID string) (string, error)
}

// defaultPageSize applies when the caller omits size. An explicit
// out-of-range value is still rejected by the query layer.
const defaultPageSize = 20

// Wire argument and result shapes. These are the protocol surface; the
// domain types underneath keep their own representation.

type turnArg struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

func toTurns(args []turnArg) []vault.Turn {
	if args == nil {
		return nil
	}
	turns := make([]vault.Turn, len(args))
	for i, t := range args {
		turns[i] = vault.Turn{Prompt: t.Prompt, Response: t.Response}
	}
	return turns
}

type chatView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Turns      []turnArg `json:"turns"`
	CreatedAt  time.Time `json:"createdAt"`
	Similarity float32   `json:"similarity,omitempty"`
}

func toChatView(rec vault.ConversationRecord) chatView {
	turns := make([]turnArg, len(rec.Turns))
	for i, t := range rec.Turns {
		turns[i] = turnArg{Prompt: t.Prompt, Response: t.Response}
	}
	return chatView{
		ID:         rec.ID,
		Title:      rec.Title,
		Turns:      turns,
		CreatedAt:  rec.CreatedAt,
		Similarity: rec.Similarity,
	}
}

type pageView struct {
	Chats      []chatView       `json:"chats"`
	Pagination vault.Pagination `json:"pagination"`
}

func toPageView(page *vault.Page) pageView {
	chats := make([]chatView, len(page.Chats))
	for i, rec := range page.Chats {
		chats[i] = toChatView(rec)
	}
	return pageView{Chats: chats, Pagination: page.Pagination}
}

func decodeArgs(arguments json.RawMessage, into any) error {
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	if err := json.Unmarshal(arguments, into); err != nil {
		return platformerrors.Validation("invalid arguments: " + err.Error())
	}
	return nil
}

// schema helpers

func objectSchema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func intProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

var turnSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompt":   stringProp("User prompt text"),
		"response": stringProp("Assistant response text"),
	},
	"required": []string{"prompt", "response"},
}

var turnsSchema = map[string]any{
	"type":        "array",
	"items":       turnSchema,
	"description": "Ordered prompt/response pairs",
}

// NewVaultRegistry wires the vault services into the operation table.
// statusGetter may be nil when no queue backend is configured; the
// getSaveStatus operation is omitted in that case.
func NewVaultRegistry(service *vault.Service, jobs *vault.JobService, statusGetter StatusGetter) *Registry {
	ops := []Operation{
		{
			Name:        "saveConversation",
			Description: "Save a conversation transcript to the vault. Retrying an identical save is safe and returns the existing record.",
			InputSchema: objectSchema(map[string]any{
				"ownerId": stringProp("User the conversation belongs to"),
				"title":   stringProp("Display title, 1-2048 characters"),
				"turns":   turnsSchema,
			}, "ownerId", "title", "turns"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID string    `json:"ownerId"`
					Title   string    `json:"title"`
					Turns   []turnArg `json:"turns"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				result, err := service.Save(ctx, vault.SaveRequest{
					OwnerID: args.OwnerID,
					Title:   args.Title,
					Turns:   toTurns(args.Turns),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"recordId":            result.RecordID,
					"wasNewlySaved":       result.WasNewlySaved,
					"additionalRecordIds": result.AdditionalRecordIDs,
				}, nil
			},
		},
		{
			Name:        "listConversations",
			Description: "List saved conversations newest-first with pagination. An optional query switches to semantic search.",
			InputSchema: objectSchema(map[string]any{
				"ownerId": stringProp("User whose conversations to list"),
				"page":    intProp("Zero-based page number"),
				"size":    intProp("Page size, 1-100 (default 20)"),
				"query":   stringProp("Optional free-text search query"),
			}, "ownerId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID string `json:"ownerId"`
					Page    int    `json:"page"`
					Size    int    `json:"size"`
					Query   string `json:"query"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				if args.Size == 0 {
					args.Size = defaultPageSize
				}
				page, err := service.List(ctx, args.OwnerID, args.Page, args.Size, args.Query)
				if err != nil {
					return nil, err
				}
				return toPageView(page), nil
			},
		},
		{
			Name:        "searchConversations",
			Description: "Search saved conversations by semantic similarity to a query.",
			InputSchema: objectSchema(map[string]any{
				"ownerId": stringProp("User whose conversations to search"),
				"query":   stringProp("Search query"),
				"page":    intProp("Zero-based page number"),
				"size":    intProp("Page size, 1-100 (default 20)"),
			}, "ownerId", "query"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID string `json:"ownerId"`
					Query   string `json:"query"`
					Page    int    `json:"page"`
					Size    int    `json:"size"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				if args.Size == 0 {
					args.Size = defaultPageSize
				}
				page, err := service.Search(ctx, args.OwnerID, args.Query, args.Page, args.Size)
				if err != nil {
					return nil, err
				}
				return toPageView(page), nil
			},
		},
		{
			Name:        "getConversation",
			Description: "Fetch a single saved conversation by id.",
			InputSchema: objectSchema(map[string]any{
				"ownerId":        stringProp("Owner of the conversation"),
				"conversationId": stringProp("Conversation record id"),
			}, "ownerId", "conversationId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID        string `json:"ownerId"`
					ConversationID string `json:"conversationId"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				rec, err := service.Get(ctx, args.OwnerID, args.ConversationID)
				if err != nil {
					return nil, err
				}
				return toChatView(*rec), nil
			},
		},
		{
			Name:        "updateConversation",
			Description: "Update a conversation's title and/or turns. Changing turns regenerates the embedding.",
			InputSchema: objectSchema(map[string]any{
				"ownerId":        stringProp("Owner of the conversation"),
				"conversationId": stringProp("Conversation record id"),
				"title":          stringProp("New title (optional)"),
				"turns":          turnsSchema,
			}, "ownerId", "conversationId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID        string     `json:"ownerId"`
					ConversationID string     `json:"conversationId"`
					Title          *string    `json:"title"`
					Turns          *[]turnArg `json:"turns"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				var turns []vault.Turn
				if args.Turns != nil {
					turns = toTurns(*args.Turns)
					if turns == nil {
						turns = []vault.Turn{}
					}
				}
				rec, err := service.Update(ctx, args.OwnerID, args.ConversationID, args.Title, turns)
				if err != nil {
					return nil, err
				}
				return toChatView(*rec), nil
			},
		},
		{
			Name:        "deleteConversation",
			Description: "Delete a saved conversation.",
			InputSchema: objectSchema(map[string]any{
				"ownerId":        stringProp("Owner of the conversation"),
				"conversationId": stringProp("Conversation record id"),
			}, "ownerId", "conversationId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID        string `json:"ownerId"`
					ConversationID string `json:"conversationId"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				if err := service.Delete(ctx, args.OwnerID, args.ConversationID); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": true}, nil
			},
		},
		{
			Name:        "beginIncrementalSave",
			Description: "Start a turn-by-turn upload of a large conversation. Returns a job id for appendTurn/finalizeIncrementalSave.",
			InputSchema: objectSchema(map[string]any{
				"ownerId": stringProp("User the conversation belongs to"),
				"title":   stringProp("Display title for the finished conversation"),
			}, "ownerId", "title"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID string `json:"ownerId"`
					Title   string `json:"title"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				jobID, err := jobs.Begin(ctx, args.OwnerID, args.Title)
				if err != nil {
					return nil, err
				}
				return map[string]any{"jobId": jobID}, nil
			},
		},
		{
			Name:        "appendTurn",
			Description: "Stage one turn of an incremental save. Re-sending the same turnIndex overwrites, so single-turn retries are safe.",
			InputSchema: objectSchema(map[string]any{
				"ownerId":   stringProp("Owner of the save job"),
				"jobId":     stringProp("Job id from beginIncrementalSave"),
				"turnIndex": intProp("Zero-based position of this turn"),
				"turn":      turnSchema,
			}, "ownerId", "jobId", "turnIndex", "turn"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID   string  `json:"ownerId"`
					JobID     string  `json:"jobId"`
					TurnIndex int     `json:"turnIndex"`
					Turn      turnArg `json:"turn"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				err := jobs.Append(ctx, args.OwnerID, args.JobID, args.TurnIndex, vault.Turn{
					Prompt:   args.Turn.Prompt,
					Response: args.Turn.Response,
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"ok": true}, nil
			},
		},
		{
			Name:        "finalizeIncrementalSave",
			Description: "Assemble the staged turns and save them. Returns a record id, or a job id to poll when processing is queued.",
			InputSchema: objectSchema(map[string]any{
				"ownerId": stringProp("Owner of the save job"),
				"jobId":   stringProp("Job id from beginIncrementalSave"),
			}, "ownerId", "jobId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					OwnerID string `json:"ownerId"`
					JobID   string `json:"jobId"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				result, err := jobs.Finalize(ctx, args.OwnerID, args.JobID)
				if err != nil {
					return nil, err
				}
				if result.Async {
					return map[string]any{"jobId": result.JobID}, nil
				}
				return map[string]any{"recordId": result.RecordID}, nil
			},
		},
	}

	if statusGetter != nil {
		ops = append(ops, Operation{
			Name:        "getSaveStatus",
			Description: "Poll the status of a queued save: pending, completed, failed, or expired once the status entry aged out.",
			InputSchema: objectSchema(map[string]any{
				"jobId": stringProp("Job id returned by finalizeIncrementalSave"),
			}, "jobId"),
			Handler: func(ctx context.Context, arguments json.RawMessage) (any, error) {
				var args struct {
					JobID string `json:"jobId"`
				}
				if err := decodeArgs(arguments, &args); err != nil {
					return nil, err
				}
				if args.JobID == "" {
					return nil, platformerrors.Validation("jobId is required")
				}
				status, err := statusGetter.Get(ctx, args.JobID)
				if err != nil {
					return nil, err
				}
				return map[string]any{"jobId": args.JobID, "status": status}, nil
			},
		})
	}

	return NewRegistry(ops)
}
