package emergency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/authz"
	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/notify"
)

type fixture struct {
	manager *Manager
	store   *credential.MemoryStore
	audits  *audit.MemoryStore
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := credential.NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &credential.Credential{
		ID: "cred-1", Name: "payments-prod", Active: false,
	}))

	az := authz.NewStaticAuthorizer()
	az.Assign("alice", authz.RoleSecurityAdmin)

	audits := audit.NewMemoryStore()
	f := &fixture{
		store:  store,
		audits: audits,
		now:    time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(store, az, audit.NewRecorder(audits), nil, logging.New(false, true))
	f.manager.SetClock(func() time.Time { return f.now })
	return f
}

func TestManager_Grant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	token, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)
	assert.Len(t, token, 64) // 32 bytes hex-encoded

	status, err := f.manager.Check(ctx, "cred-1")
	require.NoError(t, err)
	assert.True(t, status.Active)
	assert.Equal(t, "alice", status.GrantedBy)
	assert.Equal(t, f.now.Add(4*time.Hour), status.ExpiresAt)
	assert.InDelta(t, 4.0, status.HoursRemaining, 0.01)

	entries, err := f.audits.Query(ctx, audit.Filter{Action: audit.ActionEmergencyGrant})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "alice", entries[0].Principal)
}

func TestManager_GrantValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		grantedBy string
		reason    string
		duration  time.Duration
	}{
		{"non-admin denied", "mallory", "INC-123: console lockout", 4 * time.Hour},
		{"reason too short", "alice", "short", 4 * time.Hour},
		{"whitespace-padded reason too short", "alice", "   short     ", 4 * time.Hour},
		{"duration below one hour", "alice", "INC-123: console lockout", 59 * time.Minute},
		{"duration above twenty-four hours", "alice", "INC-123: console lockout", 25 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			_, err := f.manager.Grant(context.Background(), "cred-1", tt.grantedBy, tt.reason, tt.duration)
			assert.True(t, credErrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestManager_GrantBoundsInclusive(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{time.Hour, 24 * time.Hour} {
		f := newFixture(t)
		_, err := f.manager.Grant(context.Background(), "cred-1", "alice", "INC-123: console lockout", d)
		assert.NoError(t, err, "duration %v should be inside the inclusive bounds", d)
	}
}

func TestManager_GrantDeniedAttemptIsAudited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "mallory", "INC-123: console lockout", 4*time.Hour)
	require.Error(t, err)

	entries, err := f.audits.Query(ctx, audit.Filter{Action: audit.ActionEmergencyGrant})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "mallory", entries[0].Principal)
}

func TestManager_GrantConflictsWithActiveGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)

	_, err = f.manager.Grant(ctx, "cred-1", "alice", "INC-124: second incident", 2*time.Hour)
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)
}

func TestManager_GrantReplacesLapsedGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", time.Hour)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)
	_, err = f.manager.Grant(ctx, "cred-1", "alice", "INC-124: second incident", time.Hour)
	require.NoError(t, err)

	// The lapsed grant was expired in passing, with an audit trace.
	entries, err := f.audits.Query(ctx, audit.Filter{Action: audit.ActionEmergencyExpire})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestManager_CheckLazyExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 2*time.Hour)
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour) // expiry instant itself is already expired
	status, err := f.manager.Check(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, status.Active)

	entries, err := f.audits.Query(ctx, audit.Filter{Action: audit.ActionEmergencyExpire})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Principal) // system action, no principal
}

func TestManager_CheckNoGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	status, err := f.manager.Check(context.Background(), "cred-1")
	require.NoError(t, err)
	assert.False(t, status.Active)
}

func TestManager_VerifyToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	token, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)

	ok, err := f.manager.VerifyToken(ctx, "cred-1", token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.manager.VerifyToken(ctx, "cred-1", "wrong-token")
	require.NoError(t, err)
	assert.False(t, ok)

	// A lapsed grant never verifies, even with the right token.
	f.now = f.now.Add(5 * time.Hour)
	ok, err = f.manager.VerifyToken(ctx, "cred-1", token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_Revoke(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, "cred-1", "alice", "incident resolved"))

	status, err := f.manager.Check(ctx, "cred-1")
	require.NoError(t, err)
	assert.False(t, status.Active)

	cred, err := f.store.Get(ctx, "cred-1")
	require.NoError(t, err)
	require.NotNil(t, cred.Emergency)
	assert.Equal(t, "alice", cred.Emergency.RevokedBy)
	assert.Equal(t, "incident resolved", cred.Emergency.RevokeReason)
	require.NotNil(t, cred.Emergency.RevokedAt)

	// Revocation is audited distinctly from expiry.
	entries, err := f.audits.Query(ctx, audit.Filter{Action: audit.ActionEmergencyRevoke})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestManager_RevokeRequiresAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)

	err = f.manager.Revoke(ctx, "cred-1", "mallory", "nope")
	assert.True(t, credErrors.IsValidation(err), "got %v", err)
}

func TestManager_RevokeWithoutActiveGrant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.manager.Revoke(context.Background(), "cred-1", "alice", "nothing to revoke")
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)
}

func TestManager_ExpireSweep(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &credential.Credential{ID: "cred-2", Name: "oauth-prod"}))

	_, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", time.Hour)
	require.NoError(t, err)
	_, err = f.manager.Grant(ctx, "cred-2", "alice", "INC-124: second lockout", 8*time.Hour)
	require.NoError(t, err)

	f.now = f.now.Add(90 * time.Minute)
	expired, err := f.manager.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	status, err := f.manager.Check(ctx, "cred-2")
	require.NoError(t, err)
	assert.True(t, status.Active, "the unexpired grant must survive the sweep")
}

// faultyStore injects an Update failure.
type faultyStore struct {
	credential.Store
	failUpdate error
}

func (s *faultyStore) Update(ctx context.Context, id string, upd credential.Update) error {
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.Store.Update(ctx, id, upd)
}

// sinkProvider collects delivered events.
type sinkProvider struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *sinkProvider) Name() string { return "sink" }

func (p *sinkProvider) SupportsEvent(notify.EventType) bool { return true }

func (p *sinkProvider) Send(ctx context.Context, event notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *sinkProvider) delivered() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

func TestManager_GrantNotifiesAdminsOnlyAfterDurableWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := credential.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &credential.Credential{ID: "cred-1", Name: "payments-prod"}))
	faulty := &faultyStore{Store: store}

	az := authz.NewStaticAuthorizer()
	az.Assign("alice", authz.RoleSecurityAdmin)
	az.Assign("carol", authz.RoleSecurityAdmin)

	sink := &sinkProvider{}
	notifier := notify.NewManager(10, logging.New(false, true))
	notifier.RegisterProvider(sink)
	notifier.Start(ctx)
	defer notifier.Stop()

	m := NewManager(faulty, az, audit.NewRecorder(audit.NewMemoryStore()), notifier, logging.New(false, true))

	// A failed write must not announce access that was never granted.
	faulty.failUpdate = errors.New("disk full")
	_, err := m.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.Error(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.delivered())

	faulty.failUpdate = nil
	_, err = m.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", 4*time.Hour)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.delivered()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	events := sink.delivered()
	require.Len(t, events, 2, "one event per security admin")
	recipients := []string{events[0].Recipient, events[1].Recipient}
	assert.ElementsMatch(t, []string{"alice", "carol"}, recipients)
	for _, e := range events {
		assert.Equal(t, notify.EventEmergencyGranted, e.Type)
		assert.Equal(t, notify.SeverityCritical, e.Severity)
	}

	cred, err := store.Get(ctx, "cred-1")
	require.NoError(t, err)
	require.NotNil(t, cred.Emergency)
	assert.True(t, cred.Emergency.AdminsNotified)
}

func TestManager_TokensAreUnique(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	t1, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout", time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.manager.Revoke(ctx, "cred-1", "alice", "rotating token"))

	t2, err := f.manager.Grant(ctx, "cred-1", "alice", "INC-123: console lockout again", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2)
}
