package credential

import (
	"context"
	"sort"
	"sync"
	"time"

	credErrors "github.com/systmms/credops/internal/errors"
)

// MemoryStore is an in-memory Store implementation used in tests and for
// single-process evaluation setups.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

// Create inserts a new credential record.
func (s *MemoryStore) Create(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now
	cp := *cred
	s.creds[cred.ID] = &cp
	return nil
}

// Get returns the credential with the given ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[id]
	if !ok {
		return nil, credErrors.NotFoundError{Kind: "credential", ID: id}
	}
	cp := *cred
	return &cp, nil
}

// Update applies the given field changes to a credential.
func (s *MemoryStore) Update(ctx context.Context, id string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[id]
	if !ok {
		return credErrors.NotFoundError{Kind: "credential", ID: id}
	}
	upd.Apply(cred)
	return nil
}

// ListActive returns all credentials with the active flag set.
func (s *MemoryStore) ListActive(ctx context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Credential
	for _, cred := range s.creds {
		if cred.Active {
			cp := *cred
			out = append(out, &cp)
		}
	}
	sortByID(out)
	return out, nil
}

// ListEmergencyEnabled returns credentials whose emergency grant flag is set.
func (s *MemoryStore) ListEmergencyEnabled(ctx context.Context) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Credential
	for _, cred := range s.creds {
		if cred.Emergency != nil && cred.Emergency.Active {
			cp := *cred
			out = append(out, &cp)
		}
	}
	sortByID(out)
	return out, nil
}

func sortByID(creds []*Credential) {
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].ID < creds[j].ID
	})
}
