package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryHistory is an in-memory HistoryStore used in tests.
type MemoryHistory struct {
	mu      sync.RWMutex
	results map[string][]Result
}

// NewMemoryHistory creates an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{results: make(map[string][]Result)}
}

// SaveResult appends a result.
func (h *MemoryHistory) SaveResult(ctx context.Context, result *Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[result.CredentialID] = append(h.results[result.CredentialID], *result)
	return nil
}

// ListRecent returns up to limit results for a credential, newest first.
func (h *MemoryHistory) ListRecent(ctx context.Context, credentialID string, limit int) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	all := append([]Result(nil), h.results[credentialID]...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].CheckedAt.After(all[j].CheckedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListSince returns results at or after since, oldest first.
func (h *MemoryHistory) ListSince(ctx context.Context, credentialID string, since time.Time) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Result
	for _, r := range h.results[credentialID] {
		if !r.CheckedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CheckedAt.Before(out[j].CheckedAt)
	})
	return out, nil
}

// DeleteOlderThan purges results older than the cutoff.
func (h *MemoryHistory) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed int64
	for id, results := range h.results {
		kept := results[:0]
		for _, r := range results {
			if r.CheckedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		h.results[id] = kept
	}
	return removed, nil
}
