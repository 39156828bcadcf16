package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockio/paddock/pkg/storage"
	"github.com/paddockio/paddock/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store), store
}

func TestCreateKeyStoresHashOnly(t *testing.T) {
	mgr, store := newTestManager(t)

	key, token, err := mgr.CreateKey("tenant-1", "ci", []string{"runs:submit"}, time.Time{})
	require.NoError(t, err)

	assert.Len(t, token, 64) // 32 bytes hex
	assert.Equal(t, token[:8], key.Prefix)
	assert.Equal(t, HashToken(token), key.KeyHash)
	assert.NotContains(t, key.KeyHash, token)

	stored, err := store.GetAPIKeyByHash(key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, stored.ID)
	assert.Equal(t, "tenant-1", stored.TenantID)
}

func TestCreateKeyTokensAreUnique(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, token1, err := mgr.CreateKey("tenant-1", "a", nil, time.Time{})
	require.NoError(t, err)
	_, token2, err := mgr.CreateKey("tenant-1", "b", nil, time.Time{})
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2)
}

func TestValidate(t *testing.T) {
	mgr, store := newTestManager(t)

	key, token, err := mgr.CreateKey("tenant-1", "ci", []string{"runs:submit"}, time.Time{})
	require.NoError(t, err)

	got, err := mgr.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.False(t, got.LastUsed.IsZero(), "validation stamps last-used")

	stored, err := store.GetAPIKeyByHash(key.KeyHash)
	require.NoError(t, err)
	assert.False(t, stored.LastUsed.IsZero())
}

func TestValidateUnknownToken(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.Validate("not-a-real-token")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestValidateExpiredKey(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, token, err := mgr.CreateKey("tenant-1", "old", nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = mgr.Validate(token)
	assert.ErrorIs(t, err, ErrKeyExpired)
}

func TestValidateNoExpirySucceeds(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, token, err := mgr.CreateKey("tenant-1", "forever", nil, time.Time{})
	require.NoError(t, err)

	_, err = mgr.Validate(token)
	assert.NoError(t, err)
}

func TestRevoke(t *testing.T) {
	mgr, _ := newTestManager(t)

	key, token, err := mgr.CreateKey("tenant-1", "ci", nil, time.Time{})
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(key.ID))
	_, err = mgr.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHasScope(t *testing.T) {
	key := &types.APIKey{Scopes: []string{"runs:submit", "runs:read"}}
	assert.True(t, HasScope(key, "runs:submit"))
	assert.False(t, HasScope(key, "tenants:admin"))

	super := &types.APIKey{Scopes: []string{"*"}}
	assert.True(t, HasScope(super, "anything"))

	empty := &types.APIKey{}
	assert.False(t, HasScope(empty, "runs:submit"))
}
