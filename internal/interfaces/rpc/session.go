package rpc

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/recallhq/recall-server/internal/metrics"
)

// Session is the per-session routing state. It is read-mostly after
// creation; anything that starts mutating it must bring its own lock.
type Session struct {
	ID              string
	ProtocolVersion string
	ClientInfo      *Implementation
	CreatedAt       time.Time
}

// SessionStore abstracts session state so it can be swapped for a shared
// backend when the server runs more than one instance. The in-memory
// implementation loses all sessions on restart, which a single-instance
// deployment tolerates: clients just re-handshake.
type SessionStore interface {
	Get(id string) (*Session, bool)
	Put(session *Session)
	Evict(id string)
}

// NewSession builds a session with the given id and handshake details.
func NewSession(id, protocolVersion string, clientInfo *Implementation) *Session {
	return &Session{
		ID:              id,
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo,
		CreatedAt:       time.Now(),
	}
}

// NewSessionID returns a 128-bit unguessable token.
func NewSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// MemorySessionStore keeps sessions in a process-local map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

func (s *MemorySessionStore) Put(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session
	metrics.SessionsActive.Set(float64(len(s.sessions)))
}

func (s *MemorySessionStore) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	metrics.SessionsActive.Set(float64(len(s.sessions)))
}

// Len reports the number of live sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}
