package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/metrics"
	"github.com/recallhq/recall-server/internal/platformerrors"
)

// nullID answers requests whose correlation id could not be read.
var nullID = json.RawMessage("null")

// Dispatcher owns the method table and the session state machine. One
// instance serves all sessions; per-session state lives in the store.
type Dispatcher struct {
	registry        *Registry
	resources       ResourceProvider
	sessions        SessionStore
	serverInfo      Implementation
	protocolVersion string
	lenient         bool
}

// Result is the outcome of dispatching one request. A nil Response means
// the request was a notification and the transport should answer with an
// empty accepted status. SessionID is the session the transport must
// restate in the response header.
type Result struct {
	Response  *Response
	SessionID string
}

type DispatcherOptions struct {
	Registry        *Registry
	Resources       ResourceProvider
	Sessions        SessionStore
	ServerInfo      Implementation
	ProtocolVersion string
	// Lenient makes the dispatcher mint a session for non-initialize
	// requests instead of rejecting them.
	Lenient bool
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		registry:        opts.Registry,
		resources:       opts.Resources,
		sessions:        opts.Sessions,
		serverInfo:      opts.ServerInfo,
		protocolVersion: opts.ProtocolVersion,
		lenient:         opts.Lenient,
	}
}

// Dispatch parses one JSON-RPC request body and runs it to completion.
// sessionID is whatever the transport read from the session header, empty
// when the header was absent.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, body []byte) Result {
	start := time.Now()

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.RecordRequest("parse_error", "error", time.Since(start).Seconds())
		return Result{
			Response:  NewError(nullID, CodeParseError, "parse error: invalid JSON"),
			SessionID: sessionID,
		}
	}
	if req.JSONRPC != JSONRPCVersion {
		metrics.RecordRequest(req.Method, "error", time.Since(start).Seconds())
		return Result{
			Response:  NewError(req.ID, CodeInvalidRequest, "invalid request: jsonrpc must be \"2.0\""),
			SessionID: sessionID,
		}
	}

	// Notifications are fire-and-forget. Anything under notifications/ is
	// accepted without a session so a client can emit notifications/initialized
	// immediately after the handshake response, and unknown ones are dropped
	// rather than failed because there is no channel to fail on.
	if req.IsNotification() {
		d.handleNotification(sessionID, &req)
		metrics.RecordRequest(req.Method, "notification", time.Since(start).Seconds())
		return Result{SessionID: sessionID}
	}

	result := d.dispatchCall(ctx, sessionID, &req)

	status := "ok"
	if result.Response != nil && result.Response.Error != nil {
		status = "error"
	}
	metrics.RecordRequest(req.Method, status, time.Since(start).Seconds())
	return result
}

func (d *Dispatcher) dispatchCall(ctx context.Context, sessionID string, req *Request) Result {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(sessionID, req)
	case "ping":
		// Liveness probe, valid with or without a session.
		return Result{Response: NewResult(req.ID, map[string]any{}), SessionID: sessionID}
	}

	session, ok := d.sessions.Get(sessionID)
	if !ok {
		if !d.lenient {
			return Result{
				Response:  NewError(req.ID, CodeSessionRequired, "session required: call initialize first"),
				SessionID: sessionID,
			}
		}
		session = NewSession(NewSessionID(), d.protocolVersion, nil)
		d.sessions.Put(session)
		log.Debug().Str("session_id", session.ID).Str("method", req.Method).
			Msg("minted session for sessionless request")
	}

	resp := d.route(ctx, session, req)
	return Result{Response: resp, SessionID: session.ID}
}

func (d *Dispatcher) handleInitialize(sessionID string, req *Request) Result {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return Result{
				Response:  NewError(req.ID, CodeInvalidParams, "invalid initialize params: "+err.Error()),
				SessionID: sessionID,
			}
		}
	}
	if params.ProtocolVersion != "" && params.ProtocolVersion != d.protocolVersion {
		return Result{
			Response: NewErrorWithData(req.ID, CodeInvalidRequest,
				fmt.Sprintf("unsupported protocol version %q", params.ProtocolVersion),
				map[string]any{"supported": []string{d.protocolVersion}}),
			SessionID: sessionID,
		}
	}

	// A repeated initialize on a live session is a re-handshake, not an
	// error. The existing session is kept so in-flight state survives.
	session, ok := d.sessions.Get(sessionID)
	if !ok {
		session = NewSession(NewSessionID(), d.protocolVersion, params.ClientInfo)
		d.sessions.Put(session)
		log.Info().Str("session_id", session.ID).Msg("session initialized")
	}

	result := InitializeResult{
		ProtocolVersion: d.protocolVersion,
		Capabilities: map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		ServerInfo: d.serverInfo,
	}
	return Result{Response: NewResult(req.ID, result), SessionID: session.ID}
}

func (d *Dispatcher) handleNotification(sessionID string, req *Request) {
	switch req.Method {
	case "notifications/initialized":
		log.Debug().Str("session_id", sessionID).Msg("client reported initialized")
	case "notifications/cancelled":
		log.Debug().Str("session_id", sessionID).Msg("client cancelled a request")
	default:
		if !strings.HasPrefix(req.Method, "notifications/") {
			log.Debug().Str("method", req.Method).Msg("dropping unknown notification")
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, session *Session, req *Request) *Response {
	switch req.Method {
	case "tools/list":
		return NewResult(req.ID, ListToolsResult{Tools: d.registry.Descriptors()})
	case "tools/call":
		return d.handleToolCall(ctx, session, req)
	case "resources/list":
		return d.handleResourcesList(req)
	case "resources/read":
		return d.handleResourcesRead(ctx, req)
	default:
		return NewError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (d *Dispatcher) handleToolCall(ctx context.Context, session *Session, req *Request) (resp *Response) {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	op, ok := d.registry.Lookup(params.Name)
	if !ok {
		return NewError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name))
	}

	// A panicking handler must fail its own request, not the server.
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("session_id", session.ID).Str("tool", params.Name).
				Any("panic", r).Msg("tool handler panicked")
			resp = NewError(req.ID, CodeInternal, "internal error, please try again")
		}
	}()

	result, err := op.Handler(ctx, params.Arguments)
	if err != nil {
		return d.errorResponse(req.ID, params.Name, err)
	}

	text, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("tool", params.Name).Msg("encode tool result")
		return NewError(req.ID, CodeInternal, "internal error, please try again")
	}
	return NewResult(req.ID, CallToolResult{
		Content:           []ContentBlock{{Type: "text", Text: string(text)}},
		StructuredContent: result,
	})
}

func (d *Dispatcher) handleResourcesList(req *Request) *Response {
	if d.resources == nil {
		return NewResult(req.ID, ListResourcesResult{Resources: []ResourceDescriptor{}})
	}
	return NewResult(req.ID, ListResourcesResult{Resources: d.resources.List()})
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, req *Request) *Response {
	var params ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid resources/read params: "+err.Error())
	}
	if d.resources == nil {
		return NewError(req.ID, CodeNotFound, fmt.Sprintf("resource not found: %s", params.URI))
	}
	contents, err := d.resources.Read(ctx, params.URI)
	if err != nil {
		return d.errorResponse(req.ID, "resources/read", err)
	}
	return NewResult(req.ID, ReadResourceResult{Contents: contents})
}

// errorResponse maps a domain error onto the wire. Validation and lookup
// failures travel verbatim; everything else is logged and replaced with a
// generic message so internals never leak to the caller.
func (d *Dispatcher) errorResponse(id json.RawMessage, operation string, err error) *Response {
	switch platformerrors.TypeOf(err) {
	case platformerrors.ErrorTypeValidation:
		return NewError(id, CodeInvalidParams, platformerrors.UserMessage(err))
	case platformerrors.ErrorTypeNotFound:
		return NewError(id, CodeNotFound, platformerrors.UserMessage(err))
	case platformerrors.ErrorTypeConflict:
		return NewError(id, CodeInvalidRequest, platformerrors.UserMessage(err))
	default:
		log.Error().Err(err).Str("operation", operation).Msg("operation failed")
		return NewError(id, CodeInternal, "internal error, please try again")
	}
}
