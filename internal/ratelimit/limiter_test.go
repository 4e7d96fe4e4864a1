package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		d := l.Check("cred-1", 3, 0)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d := l.Check("cred-1", 3, 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Contains(t, d.Reason, "Rate limit exceeded")
	assert.Equal(t, time.Minute, d.RetryAfter)

	// The oldest timestamp falls out of the window after a minute.
	now = now.Add(61 * time.Second)
	d = l.Check("cred-1", 3, 0)
	assert.True(t, d.Allowed)
}

func TestLimiter_WindowSlides(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.SetClock(func() time.Time { return now })

	require.True(t, l.Check("cred-1", 2, 0).Allowed)
	now = now.Add(30 * time.Second)
	require.True(t, l.Check("cred-1", 2, 0).Allowed)

	// Only the first request has aged out; one slot opens.
	now = now.Add(31 * time.Second)
	assert.True(t, l.Check("cred-1", 2, 0).Allowed)
	assert.False(t, l.Check("cred-1", 2, 0).Allowed)
}

func TestLimiter_RetryAfterPointsAtOldestRequest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.SetClock(func() time.Time { return now })

	require.True(t, l.Check("cred-1", 1, 0).Allowed)

	now = now.Add(20 * time.Second)
	d := l.Check("cred-1", 1, 0)
	require.False(t, d.Allowed)
	assert.Equal(t, 40*time.Second, d.RetryAfter)
	assert.Equal(t, now.Add(40*time.Second), d.ResetAt)
}

func TestLimiter_ConcurrencyGate(t *testing.T) {
	t.Parallel()

	l := NewLimiter()

	t1 := l.Track("cred-1")
	t2 := l.Track("cred-1")
	assert.Equal(t, 2, l.InFlight("cred-1"))

	d := l.Check("cred-1", 0, 2)
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Concurrent request limit exceeded")
	assert.Equal(t, time.Second, d.RetryAfter)

	t1.Release()
	assert.Equal(t, 1, l.InFlight("cred-1"))
	assert.True(t, l.Check("cred-1", 0, 2).Allowed)

	t2.Release()
	assert.Equal(t, 0, l.InFlight("cred-1"))
}

func TestLimiter_ConcurrencyCheckedBeforeRate(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	tracked := l.Track("cred-1")
	defer tracked.Release()

	// Both limits exhausted; the concurrency reason wins and the request
	// is not counted against the window.
	d := l.Check("cred-1", 1, 1)
	require.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Concurrent")

	tracked.Release()
	assert.True(t, l.Check("cred-1", 1, 1).Allowed)
}

func TestTracked_ReleaseIdempotent(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	t1 := l.Track("cred-1")
	t2 := l.Track("cred-1")

	t1.Release()
	t1.Release()
	t1.Release()

	assert.Equal(t, 1, l.InFlight("cred-1"))
	t2.Release()
	assert.Equal(t, 0, l.InFlight("cred-1"))
}

func TestLimiter_UnlimitedDimensions(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	for i := 0; i < 500; i++ {
		d := l.Check("cred-1", 0, 0)
		require.True(t, d.Allowed)
		assert.Equal(t, -1, d.Remaining)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.SetClock(func() time.Time { return now })

	l.Check("idle-cred", 10, 0)
	l.Check("busy-cred", 10, 0)
	busy := l.Track("busy-cred")
	require.Equal(t, 2, l.Size())

	now = now.Add(IdleEviction + time.Second)
	removed := l.Sweep()

	// In-flight state is never evicted, no matter how stale.
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Size())
	assert.Equal(t, 1, l.InFlight("busy-cred"))

	busy.Release()
	now = now.Add(IdleEviction + time.Second)
	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Size())
}

func TestLimiter_IndependentPerCredential(t *testing.T) {
	t.Parallel()

	l := NewLimiter()
	require.True(t, l.Check("cred-a", 1, 0).Allowed)
	require.False(t, l.Check("cred-a", 1, 0).Allowed)

	assert.True(t, l.Check("cred-b", 1, 0).Allowed)
}
