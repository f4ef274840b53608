package oauth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veupathdb/oauth-server/internal/crypto"
)

const testSeed = "a-perfectly-reasonable-key-seed"

func TestNewSigningKeyStoreDeterministic(t *testing.T) {
	first, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)
	second, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)

	assert.True(t, first.PublicKey().Equal(second.PublicKey()))
	assert.Equal(t, first.KeyPair().D, second.KeyPair().D)
}

func TestNewSigningKeyStoreDistinctSeeds(t *testing.T) {
	first, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)
	second, err := NewSigningKeyStore(testSeed + "-but-different")
	require.NoError(t, err)

	assert.False(t, first.PublicKey().Equal(second.PublicKey()))
}

func TestNewSigningKeyStoreWeakSeed(t *testing.T) {
	_, err := NewSigningKeyStore("short")
	assert.ErrorIs(t, err, crypto.ErrWeakSeed)
}

func TestAddClientSecret(t *testing.T) {
	keys, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)

	secret := strings.Repeat("s", 64)
	require.NoError(t, keys.AddClientSecret("clientA", secret))

	stored, ok := keys.ClientSecret("clientA")
	require.True(t, ok)
	assert.Equal(t, []byte(secret), stored)

	_, ok = keys.ClientSecret("unknown")
	assert.False(t, ok)
}

func TestAddClientSecretTooShort(t *testing.T) {
	keys, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)

	err = keys.AddClientSecret("clientA", strings.Repeat("s", 63))
	assert.ErrorIs(t, err, ErrWeakKey)
}

func TestAddClientSecretLastWriteWins(t *testing.T) {
	keys, err := NewSigningKeyStore(testSeed)
	require.NoError(t, err)

	first := strings.Repeat("a", 64)
	second := strings.Repeat("b", 64)
	require.NoError(t, keys.AddClientSecret("clientA", first))
	require.NoError(t, keys.AddClientSecret("clientA", second))

	stored, ok := keys.ClientSecret("clientA")
	require.True(t, ok)
	assert.Equal(t, []byte(second), stored)
}
