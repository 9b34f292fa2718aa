// ABOUTME: Tests for the key-value client over in-memory BadgerDB
// ABOUTME: Covers get/set/delete semantics, not-found mapping and prefix listing

package charm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSetGet(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("auth/token"), []byte("ya29.abc")))

	v, err := c.Get([]byte("auth/token"))
	require.NoError(t, err)
	assert.Equal(t, "ya29.abc", string(v))
}

func TestClientGetMissingKey(t *testing.T) {
	c := NewTestClient(t)

	_, err := c.Get([]byte("nope"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClientDelete(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("k"), []byte("v")))
	require.NoError(t, c.Delete([]byte("k")))

	_, err := c.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting again is fine.
	assert.NoError(t, c.Delete([]byte("k")))
}

func TestClientKeysWithPrefix(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("auth/token"), []byte("1")))
	require.NoError(t, c.Set([]byte("auth/expiry"), []byte("2")))
	require.NoError(t, c.Set([]byte("other"), []byte("3")))

	keys, err := c.KeysWithPrefix([]byte("auth/"))
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestClientReset(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("a"), []byte("1")))
	require.NoError(t, c.Reset())

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalClientPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Backend: BackendLocal, LocalPath: dir}

	c, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Set([]byte("auth/token"), []byte("persisted")))
	require.NoError(t, c.Close())

	c, err = Open(cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	v, err := c.Get([]byte("auth/token"))
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(v))
	assert.False(t, c.Remote())
}

func TestConfigApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, DefaultCharmHost, cfg.Host)
	assert.NotEmpty(t, cfg.LocalPath)
	assert.NotZero(t, cfg.StaleThreshold)
}
