// Package ratelimit provides per-credential sliding-window admission
// control with a live concurrency gate. State is process-local and
// ephemeral; a distributed deployment replaces this behind the same
// interface.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

const (
	// Window is the sliding interval over which requests are counted.
	Window = time.Minute

	// IdleEviction is how long a credential's state may sit unused before
	// the sweep removes it.
	IdleEviction = 5 * time.Minute
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

// state tracks one credential's recent requests and in-flight counter.
type state struct {
	timestamps   []time.Time
	inFlight     int
	lastActivity time.Time
}

// Limiter admits requests per credential. Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	states map[string]*state

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		states: make(map[string]*state),
		now:    time.Now,
	}
}

// SetClock overrides the limiter's clock. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Check applies the concurrency gate and the sliding window, in that
// order, and records the request timestamp when admitted. A limit of 0
// means unlimited for that dimension.
func (l *Limiter) Check(credentialID string, perMinute, maxConcurrent int) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.stateFor(credentialID, now)
	l.evict(st, now)

	if maxConcurrent > 0 && st.inFlight >= maxConcurrent {
		recordDecision("rejected_concurrency")
		return Decision{
			Allowed:    false,
			Remaining:  remaining(perMinute, len(st.timestamps)),
			ResetAt:    now.Add(time.Second),
			RetryAfter: time.Second,
			Reason:     fmt.Sprintf("Concurrent request limit exceeded (%d concurrent)", maxConcurrent),
		}
	}

	if perMinute > 0 && len(st.timestamps) >= perMinute {
		resetAt := st.timestamps[0].Add(Window)
		recordDecision("rejected_rate")
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
			Reason:     fmt.Sprintf("Rate limit exceeded (%d requests/minute)", perMinute),
		}
	}

	st.timestamps = append(st.timestamps, now)
	recordDecision("allowed")
	return Decision{
		Allowed:   true,
		Remaining: remaining(perMinute, len(st.timestamps)),
		ResetAt:   now.Add(Window),
	}
}

// Tracked is a handle for one in-flight request. Release must be called
// on every exit path; it decrements the live counter exactly once.
type Tracked struct {
	limiter      *Limiter
	credentialID string
	released     bool
}

// Track increments the credential's in-flight counter.
func (l *Limiter) Track(credentialID string) *Tracked {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.stateFor(credentialID, now)
	st.inFlight++
	return &Tracked{limiter: l, credentialID: credentialID}
}

// Release decrements the in-flight counter. Safe to call more than once;
// only the first call has an effect.
func (t *Tracked) Release() {
	t.limiter.mu.Lock()
	defer t.limiter.mu.Unlock()

	if t.released {
		return
	}
	t.released = true

	if st, ok := t.limiter.states[t.credentialID]; ok {
		if st.inFlight > 0 {
			st.inFlight--
		}
		st.lastActivity = t.limiter.now()
	}
}

// InFlight reports the live counter for a credential. Test and status hook.
func (l *Limiter) InFlight(credentialID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.states[credentialID]; ok {
		return st.inFlight
	}
	return 0
}

// Sweep removes state for credentials with no activity in the idle
// eviction window and no in-flight requests. Returns the number removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, st := range l.states {
		if st.inFlight == 0 && now.Sub(st.lastActivity) >= IdleEviction {
			delete(l.states, id)
			removed++
		}
	}
	return removed
}

// Size reports how many credentials have live state.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// stateFor returns the state for a credential, creating it if needed.
// Caller must hold l.mu.
func (l *Limiter) stateFor(credentialID string, now time.Time) *state {
	st, ok := l.states[credentialID]
	if !ok {
		st = &state{}
		l.states[credentialID] = st
	}
	st.lastActivity = now
	return st
}

// evict drops timestamps older than the window. Caller must hold l.mu.
func (l *Limiter) evict(st *state, now time.Time) {
	cutoff := now.Add(-Window)
	idx := 0
	for idx < len(st.timestamps) && !st.timestamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		st.timestamps = append(st.timestamps[:0], st.timestamps[idx:]...)
	}
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1 // unlimited
	}
	if used >= limit {
		return 0
	}
	return limit - used
}
