package rotation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/systmms/credops/internal/errors"
)

// MemorySessionStore is an in-process SessionStore for tests and
// single-run tooling. It enforces the same one-active-session invariant
// the SQLite store enforces with a partial unique index.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// Claim atomically creates the session unless the credential already has a
// non-terminal one.
func (s *MemorySessionStore) Claim(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.CredentialID == session.CredentialID && !existing.Status.IsTerminal() {
			return errors.StateConflictError{
				Operation: "start rotation",
				Current:   existing.Status.String(),
				Expected:  "no active session",
			}
		}
	}

	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// Get returns the session with the given ID.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.NotFoundError{Kind: "rotation session", ID: id}
	}
	copied := *session
	return &copied, nil
}

// GetActive returns the non-terminal session for a credential.
func (s *MemorySessionStore) GetActive(ctx context.Context, credentialID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.CredentialID == credentialID && !session.Status.IsTerminal() {
			copied := *session
			return &copied, nil
		}
	}
	return nil, errors.NotFoundError{Kind: "active rotation session", ID: credentialID}
}

// Update persists the session's current state.
func (s *MemorySessionStore) Update(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return errors.NotFoundError{Kind: "rotation session", ID: session.ID}
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

// ListInGrace returns grace-period sessions whose deadline has passed.
func (s *MemorySessionStore) ListInGrace(ctx context.Context, now time.Time) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Session
	for _, session := range s.sessions {
		if session.Status == StatusGracePeriod && !now.Before(session.GraceDeadline()) {
			copied := *session
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].StartedAt.Before(due[j].StartedAt) })
	return due, nil
}

// ListByCredential returns all sessions for a credential, newest first.
func (s *MemorySessionStore) ListByCredential(ctx context.Context, credentialID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, session := range s.sessions {
		if session.CredentialID == credentialID {
			copied := *session
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
