package session

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry is the process-wide table mapping a client identity to at most one
// active validated session. It is the single source of truth for "who has
// what open": no component outside this package inserts sessions directly.
type Registry struct {
	log *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(log *logrus.Logger) *Registry {
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Register installs a session as the sole active one for its client. If a
// session already exists for that client the call is a no-op and returns
// false.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.XUID()]; ok {
		r.log.Warnf("session already registered for %s (%s), refusing to replace it", s.Identity().DisplayName, s.XUID())
		return false
	}
	r.sessions[s.XUID()] = s
	return true
}

// Lookup returns the active session for a client identity, if any.
func (r *Registry) Lookup(xuid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[xuid]
	return s, ok
}

// Remove atomically detaches and returns the session for a client. It is
// idempotent: a second call for the same client returns false.
func (r *Registry) Remove(xuid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[xuid]
	if !ok {
		return nil, false
	}
	delete(r.sessions, xuid)
	return s, true
}

// All returns a snapshot of every active session. The watchdog iterates this
// snapshot so a sweep never holds the registry lock while touching sessions.
func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	return all
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ClearAll removes every session, marking each one closed. Used on full
// system shutdown.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.FinishClose()
	}
}
