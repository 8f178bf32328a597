// Package websession provides the per-request HTTP session state the
// dispatcher passes to and from procedures as JSON.
package websession

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Backend persists session state by ID.
type Backend interface {
	Load(ctx context.Context, id string) (map[string]any, bool, error)
	Store(ctx context.Context, id string, state map[string]any, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

// Manager produces per-request sessions identified by a cookie.
type Manager struct {
	backend    Backend
	cookieName string
	ttl        time.Duration
}

// NewManager builds a session manager over the given backend.
func NewManager(backend Backend, cookieName string, ttl time.Duration) *Manager {
	if cookieName == "" {
		cookieName = "callgate_session"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Manager{backend: backend, cookieName: cookieName, ttl: ttl}
}

// Session resolves the request's session, creating a fresh one (and
// setting the cookie) when none exists.
func (m *Manager) Session(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		state, found, err := m.backend.Load(r.Context(), cookie.Value)
		if err != nil {
			return nil, err
		}
		if found {
			return &Session{mgr: m, id: cookie.Value, state: state}, nil
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return &Session{mgr: m, id: id, state: map[string]any{}, isNew: true}, nil
}

// Session is one request's view of the stored session state.
type Session struct {
	mgr   *Manager
	id    string
	state map[string]any
	isNew bool
	saved bool
	dirty bool
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.isNew }

// IsSaved reports whether this request already persisted the session.
func (s *Session) IsSaved() bool { return s.saved }

// Dirty reports whether the state was mutated since the last save.
func (s *Session) Dirty() bool { return s.dirty }

// Get reads one key of the session state.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.state[key]
	return v, ok
}

// Set writes one key of the session state.
func (s *Session) Set(key string, value any) {
	s.state[key] = value
	s.saved = false
	s.dirty = true
}

// Clear drops the whole session state.
func (s *Session) Clear() {
	s.state = map[string]any{}
	s.saved = false
	s.dirty = true
}

// Replace swaps the whole session state for the given map. Keys absent
// from the new state disappear.
func (s *Session) Replace(state map[string]any) {
	if state == nil {
		state = map[string]any{}
	}
	s.state = state
	s.saved = false
	s.dirty = true
}

// Map returns the session state.
func (s *Session) Map() map[string]any { return s.state }

// Save persists the session state through the backend.
func (s *Session) Save(ctx context.Context) error {
	if err := s.mgr.backend.Store(ctx, s.id, s.state, s.mgr.ttl); err != nil {
		return err
	}
	s.saved = true
	s.isNew = false
	s.dirty = false
	return nil
}
