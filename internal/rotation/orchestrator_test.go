package rotation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/credops/internal/audit"
	"github.com/systmms/credops/internal/credential"
	credErrors "github.com/systmms/credops/internal/errors"
	"github.com/systmms/credops/internal/logging"
	"github.com/systmms/credops/internal/servicedef"
	"github.com/systmms/credops/internal/vault"
)

// memVault is a plain map vault for orchestrator tests.
type memVault struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemVault() *memVault {
	return &memVault{secrets: make(map[string]string)}
}

func (v *memVault) Store(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[key] = value
	return nil
}

func (v *memVault) Retrieve(ctx context.Context, key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.secrets[key]
	if !ok {
		return "", credErrors.NotFoundError{Kind: "secret", ID: key}
	}
	return value, nil
}

func (v *memVault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.secrets, key)
	return nil
}

func (v *memVault) has(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.secrets[key]
	return ok
}

type rig struct {
	orch     *Orchestrator
	creds    *credential.MemoryStore
	sessions *MemorySessionStore
	vault    *memVault
	audits   *audit.MemoryStore
	registry *StrategyRegistry

	verifyErr   error
	verifyCalls int
}

// fastOpts keeps verification pauses out of test runtime.
var fastOpts = Options{VerifyInterval: time.Millisecond}

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		creds:    credential.NewMemoryStore(),
		sessions: NewMemorySessionStore(),
		vault:    newMemVault(),
		audits:   audit.NewMemoryStore(),
		registry: NewStrategyRegistry(servicedef.NewRegistry()),
	}

	ctx := context.Background()
	require.NoError(t, r.creds.Create(ctx, &credential.Credential{
		ID: "cred-1", Name: "payments-prod", ServiceType: "payments", Active: true,
	}))
	require.NoError(t, r.vault.Store(ctx, vault.CredentialKey("cred-1"), "sk_live_oldsecret1234"))

	verifier := VerifierFunc(func(ctx context.Context, cred *credential.Credential, def servicedef.Definition) error {
		r.verifyCalls++
		return r.verifyErr
	})
	r.orch = NewOrchestrator(r.creds, r.sessions, r.registry, r.vault, verifier,
		audit.NewRecorder(r.audits), nil, logging.New(false, true))
	return r
}

func TestOrchestrator_SuccessfulRotation(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)
	assert.Equal(t, StatusGracePeriod, session.Status)
	assert.Equal(t, DefaultVerifyChecks, r.verifyCalls)
	assert.Equal(t, "****1234", session.OldSecretPreview)

	// The new secret is live; the old one is held as a durable backup.
	live, err := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	require.NoError(t, err)
	assert.NotEqual(t, "sk_live_oldsecret1234", live)
	assert.True(t, strings.HasPrefix(live, "sk_live_"))

	backup, err := r.vault.Retrieve(ctx, vault.BackupKey("cred-1", session.ID))
	require.NoError(t, err)
	assert.Equal(t, "sk_live_oldsecret1234", backup)

	cred, err := r.creds.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.NotNil(t, cred.LastRotatedAt)
	assert.Equal(t, session.NewSecretPreview, cred.SecretPreview)

	// Complete retires the old secret and destroys the backup.
	completed, err := r.orch.Complete(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	assert.False(t, r.vault.has(vault.BackupKey("cred-1", session.ID)))

	entries, err := r.audits.Query(ctx, audit.Filter{Action: audit.ActionRotate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "alice", entries[0].Principal)
}

func TestOrchestrator_RetireHookReceivesOldSecret(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	var installed, retired string
	r.registry.Register("payments", &HookStrategy{
		StrategyName: "test-provider",
		InstallFunc: func(ctx context.Context, cred *credential.Credential, newSecret string) error {
			installed = newSecret
			return nil
		},
		RetireFunc: func(ctx context.Context, cred *credential.Credential, oldSecret string) error {
			retired = oldSecret
			return nil
		},
	})

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)
	_, err = r.orch.Complete(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, "sk_live_oldsecret1234", retired)
	live, _ := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	assert.Equal(t, live, installed)
}

func TestOrchestrator_VerificationFailureAutoRollback(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.verifyErr = errors.New("credential unhealthy: 401")
	ctx := context.Background()

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.Error(t, err)
	require.NotNil(t, session)
	assert.Equal(t, StatusRolledBack, session.Status)
	assert.Equal(t, 1, r.verifyCalls, "verification aborts on the first failure")

	// The old secret is back in place and the backup is cleaned up.
	live, err := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, "sk_live_oldsecret1234", live)
	assert.False(t, r.vault.has(vault.BackupKey("cred-1", session.ID)))

	entries, err := r.audits.Query(ctx, audit.Filter{Action: audit.ActionRotate})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

func TestOrchestrator_VerificationFailureNoAutoRollback(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	r.verifyErr = errors.New("credential unhealthy: 401")
	ctx := context.Background()

	opts := fastOpts
	opts.NoAutoRollback = true
	session, err := r.orch.Initiate(ctx, "cred-1", "alice", opts)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, session.Status)
	assert.Contains(t, session.Error, "verification failed")

	// The new secret stays installed for inspection; the backup remains
	// for a later manual rollback.
	live, err := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	require.NoError(t, err)
	assert.NotEqual(t, "sk_live_oldsecret1234", live)
	require.True(t, r.vault.has(vault.BackupKey("cred-1", session.ID)))

	rolled, err := r.orch.Rollback(ctx, session.ID, "manual recovery")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
	live, _ = r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	assert.Equal(t, "sk_live_oldsecret1234", live)
}

func TestOrchestrator_InstallFailureRollsBack(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	r.registry.Register("payments", &HookStrategy{
		InstallFunc: func(ctx context.Context, cred *credential.Credential, newSecret string) error {
			return errors.New("provider API returned 503")
		},
	})

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.Error(t, err)
	assert.Equal(t, StatusRolledBack, session.Status)
	assert.Equal(t, 0, r.verifyCalls)

	live, _ := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	assert.Equal(t, "sk_live_oldsecret1234", live)
}

func TestOrchestrator_VerifyChecksConfigurable(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	opts := fastOpts
	opts.VerifyChecks = 5
	_, err := r.orch.Initiate(context.Background(), "cred-1", "alice", opts)
	require.NoError(t, err)
	assert.Equal(t, 5, r.verifyCalls)
}

func TestOrchestrator_OneActiveSessionPerCredential(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	first, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)
	require.Equal(t, StatusGracePeriod, first.Status)

	_, err = r.orch.Initiate(ctx, "cred-1", "bob", fastOpts)
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)

	// A terminal session frees the slot.
	_, err = r.orch.Complete(ctx, first.ID)
	require.NoError(t, err)
	_, err = r.orch.Initiate(ctx, "cred-1", "bob", fastOpts)
	assert.NoError(t, err)
}

func TestOrchestrator_CompleteRequiresGracePeriod(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)
	completed, err := r.orch.Complete(ctx, session.ID)
	require.NoError(t, err)

	_, err = r.orch.Complete(ctx, completed.ID)
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)
}

func TestOrchestrator_CompleteRetireFailureMarksFailed(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	r.registry.Register("payments", &HookStrategy{
		RetireFunc: func(ctx context.Context, cred *credential.Credential, oldSecret string) error {
			return errors.New("provider deactivation endpoint down")
		},
	})

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)

	failed, err := r.orch.Complete(ctx, session.ID)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "retirement failed")

	// The backup survives a failed completion so manual rollback still works.
	require.True(t, r.vault.has(vault.BackupKey("cred-1", session.ID)))
	rolled, err := r.orch.Rollback(ctx, session.ID, "retire failed, reverting")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, rolled.Status)
}

func TestOrchestrator_CancelDuringGrace(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)

	cancelled, err := r.orch.Cancel(ctx, session.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusRolledBack, cancelled.Status)

	live, _ := r.vault.Retrieve(ctx, vault.CredentialKey("cred-1"))
	assert.Equal(t, "sk_live_oldsecret1234", live)

	cred, err := r.creds.Get(ctx, "cred-1")
	require.NoError(t, err)
	assert.Equal(t, "****1234", cred.SecretPreview)
}

func TestOrchestrator_CancelOnlyInGrace(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)
	_, err = r.orch.Complete(ctx, session.ID)
	require.NoError(t, err)

	_, err = r.orch.Cancel(ctx, session.ID, "too late")
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)
}

func TestOrchestrator_FinalizeSweep(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	opts := fastOpts
	opts.GracePeriod = time.Millisecond
	session, err := r.orch.Initiate(ctx, "cred-1", "alice", opts)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	completed, err := r.orch.FinalizeSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, completed)

	final, err := r.sessions.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
}

func TestOrchestrator_FinalizeSweepSkipsUnexpiredGrace(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	opts := fastOpts
	opts.GracePeriod = time.Hour
	_, err := r.orch.Initiate(ctx, "cred-1", "alice", opts)
	require.NoError(t, err)

	completed, err := r.orch.FinalizeSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, completed)
}

func TestOrchestrator_ActiveSession(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()

	active, err := r.orch.ActiveSession(ctx, "cred-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	session, err := r.orch.Initiate(ctx, "cred-1", "alice", fastOpts)
	require.NoError(t, err)

	active, err = r.orch.ActiveSession(ctx, "cred-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, session.ID, active.ID)
}

func TestOrchestrator_UnsupportedServiceTypeRejectedBeforeClaim(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	ctx := context.Background()
	require.NoError(t, r.creds.Create(ctx, &credential.Credential{
		ID: "db-1", Name: "postgres-prod", ServiceType: "database", Active: true,
	}))

	_, err := r.orch.Initiate(ctx, "db-1", "alice", fastOpts)
	assert.True(t, credErrors.IsValidation(err), "got %v", err)

	sessions, err := r.sessions.ListByCredential(ctx, "db-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestOrchestrator_UnknownCredential(t *testing.T) {
	t.Parallel()

	r := newRig(t)
	_, err := r.orch.Initiate(context.Background(), "ghost", "alice", fastOpts)
	assert.True(t, credErrors.IsNotFound(err), "got %v", err)
}

func TestGenerateSecret(t *testing.T) {
	t.Parallel()

	def := servicedef.Definition{
		Rotation: servicedef.RotationSpec{Supported: true, SecretPrefix: "sk_live_", SecretLength: 32},
	}
	secret, err := GenerateSecret(def)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "sk_live_"))
	assert.Len(t, secret, len("sk_live_")+32)

	other, err := GenerateSecret(def)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)

	// Defaults apply when the definition leaves the length unset.
	plain, err := GenerateSecret(servicedef.Definition{})
	require.NoError(t, err)
	assert.Len(t, plain, DefaultSecretLength)
}

func TestMemorySessionStore_ClaimConflict(t *testing.T) {
	t.Parallel()

	store := NewMemorySessionStore()
	ctx := context.Background()

	first := &Session{ID: "s1", CredentialID: "c1", Status: StatusInProgress, StartedAt: time.Now()}
	require.NoError(t, store.Claim(ctx, first))

	second := &Session{ID: "s2", CredentialID: "c1", Status: StatusInProgress, StartedAt: time.Now()}
	err := store.Claim(ctx, second)
	assert.True(t, credErrors.IsStateConflict(err), "got %v", err)

	// Terminal sessions do not block a new claim.
	first.Status = StatusCompleted
	require.NoError(t, store.Update(ctx, first))
	assert.NoError(t, store.Claim(ctx, second))
}

func TestMemorySessionStore_ListByCredentialNewestFirst(t *testing.T) {
	t.Parallel()

	store := NewMemorySessionStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s := &Session{
			ID:           fmt.Sprintf("s%d", i),
			CredentialID: "c1",
			Status:       StatusCompleted,
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.Claim(ctx, s))
	}

	sessions, err := store.ListByCredential(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.Equal(t, "s0", sessions[2].ID)
}
