package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	credErrors "github.com/systmms/credops/internal/errors"
)

func TestUpdate_Apply(t *testing.T) {
	t.Parallel()

	cred := &Credential{
		ID: "cred-1", Name: "payments-prod", Active: true, SecretPreview: "****1234",
		Emergency: &EmergencyGrant{Active: true, GrantedBy: "alice"},
	}

	// An empty update touches nothing but the updated-at stamp.
	Update{}.Apply(cred)
	assert.True(t, cred.Active)
	assert.Equal(t, "****1234", cred.SecretPreview)
	assert.NotNil(t, cred.Emergency)

	inactive := false
	rotated := time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC)
	preview := "****9999"
	var cleared *EmergencyGrant
	Update{
		Active:        &inactive,
		LastRotatedAt: &rotated,
		SecretPreview: &preview,
		Emergency:     &cleared,
	}.Apply(cred)

	assert.False(t, cred.Active)
	require.NotNil(t, cred.LastRotatedAt)
	assert.True(t, cred.LastRotatedAt.Equal(rotated))
	assert.Equal(t, "****9999", cred.SecretPreview)
	assert.Nil(t, cred.Emergency)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Credential{ID: "b", Name: "b", Active: true}))
	require.NoError(t, store.Create(ctx, &Credential{ID: "a", Name: "a", Active: true}))
	require.NoError(t, store.Create(ctx, &Credential{ID: "c", Name: "c", Active: false}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = store.Get(ctx, "ghost")
	assert.True(t, credErrors.IsNotFound(err), "got %v", err)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID, "sorted by ID")

	// Returned credentials are copies; mutating one must not leak back.
	active[0].Name = "mutated"
	got, err = store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	inactive := false
	require.NoError(t, store.Update(ctx, "a", Update{Active: &inactive}))
	active, err = store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	err = store.Update(ctx, "ghost", Update{Active: &inactive})
	assert.True(t, credErrors.IsNotFound(err), "got %v", err)
}

func TestMemoryStore_ListEmergencyEnabled(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Credential{ID: "a", Name: "a"}))
	require.NoError(t, store.Create(ctx, &Credential{
		ID: "b", Name: "b", Emergency: &EmergencyGrant{Active: true, GrantedBy: "alice"},
	}))
	require.NoError(t, store.Create(ctx, &Credential{
		ID: "c", Name: "c", Emergency: &EmergencyGrant{Active: false, GrantedBy: "alice"},
	}))

	granted, err := store.ListEmergencyEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, granted, 1)
	assert.Equal(t, "b", granted[0].ID)
}
