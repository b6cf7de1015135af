package httpserver

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallhq/recall-server/internal/interfaces/rpc"
	"github.com/recallhq/recall-server/internal/metrics"
)

// maxBodyBytes caps one request body. Large conversations are expected to
// arrive through the incremental save operations, one turn at a time.
const maxBodyBytes = 8 << 20

// Server mounts the JSON-RPC dispatcher on HTTP.
type Server struct {
	dispatcher  *rpc.Dispatcher
	apiKey      string
	timeout     time.Duration
	idleTimeout time.Duration
}

func NewServer(dispatcher *rpc.Dispatcher, apiKey string, timeout, idleTimeout time.Duration) *Server {
	return &Server{dispatcher: dispatcher, apiKey: apiKey, timeout: timeout, idleTimeout: idleTimeout}
}

// Routes assembles the full handler tree. The RPC endpoint sits behind
// auth; health and metrics do not.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", AuthMiddleware(s.apiKey, http.HandlerFunc(s.handleRPC)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return RequestIDMiddleware(mux)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sessionID := r.Header.Get(rpc.SessionHeader)
	result := s.dispatcher.Dispatch(ctx, sessionID, body)

	if result.SessionID != "" {
		w.Header().Set(rpc.SessionHeader, result.SessionID)
	}
	if result.Response == nil {
		// Notification: acknowledged with no body.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) newHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := s.newHTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
