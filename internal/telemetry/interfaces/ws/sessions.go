package ws

import (
	"errors"
	"sync"
)

var (
	ErrNilSession     = errors.New("telemetry ws: nil session outbound")
	ErrSessionExists  = errors.New("telemetry ws: session already registered")
	ErrEmptySessionID = errors.New("telemetry ws: empty session id")
)

// Outbound delivers an encoded reply to one connected client.
type Outbound interface {
	Send(payload []byte) error
}

// SessionRef addresses a connected client.
type SessionRef struct {
	ID       string
	Outbound Outbound
}

// SessionMetadata is what the handler knows about an authenticated session.
type SessionMetadata struct {
	Ref      SessionRef
	TenantID string
	Subject  string
	Role     string
}

// SessionRegistry tracks the metadata of open sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionMetadata
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]SessionMetadata)}
}

// Register stores metadata for a new session.
func (r *SessionRegistry) Register(meta SessionMetadata) error {
	if meta.Ref.ID == "" {
		return ErrEmptySessionID
	}
	if meta.Ref.Outbound == nil {
		return ErrNilSession
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[meta.Ref.ID]; ok {
		return ErrSessionExists
	}
	r.sessions[meta.Ref.ID] = meta
	return nil
}

// Get returns the metadata of an open session.
func (r *SessionRegistry) Get(sessionID string) (SessionMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.sessions[sessionID]
	return meta, ok
}

// Remove forgets a session. It reports whether the session was known.
func (r *SessionRegistry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// Len returns the number of open sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
